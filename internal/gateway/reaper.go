package gateway

import "log"

// reap releases everything a closed connection held: its client entry, its
// terminal, its presence reference and its room membership. A participant
// that has already been rebound to a newer connection is left alone.
func (h *Hub) reap(c *Client) {
	c.shutdown()

	h.mu.Lock()
	delete(h.clients, c.ID)
	b, bound := h.bindings[c.ID]
	open := len(h.clients)
	h.mu.Unlock()

	if h.terminals.Stop(c.ID) {
		log.Printf("terminal for %s stopped on disconnect", c.ID)
	}
	h.presence.Disconnect(c.ID)
	if bound {
		h.leave(c.ID, b)
	}
	log.Printf("connection %s closed (%d open)", c.ID, open)
}
