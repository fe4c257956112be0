package gateway

import (
	"fmt"

	"collabrooms/internal/protocol"
	"collabrooms/internal/terminal"
)

var errNoTerminal = fmt.Errorf("stop: %w", terminal.ErrNoSession)

// terminalSink streams a session's output to the connection that owns it.
type terminalSink struct {
	hub *Hub
}

func (s terminalSink) TerminalOutput(connID string, data []byte) {
	s.hub.Send(connID, protocol.EventTerminalOutput, protocol.TerminalOutputPayload{Data: string(data)})
}

func (s terminalSink) TerminalExit(connID string, code int) {
	s.hub.Send(connID, protocol.EventTerminalExit, protocol.TerminalExitPayload{Code: code})
}

// handleStartTerminal spawns a shell for the connection. The shell runs in
// the linked project's directory when the room has one.
func (h *Hub) handleStartTerminal(c *Client, cmd protocol.StartTerminal) error {
	roomID := cmd.RoomID
	if roomID == "" {
		if b, ok := h.binding(c.ID); ok {
			roomID = b.roomID
		}
	}
	workDir, projectID := h.opts.TerminalWorkDir, ""
	if rm, ok := h.rooms.Get(roomID); ok {
		if project, linked := rm.Project(); linked {
			projectID = project.ID
			if project.LocalPath != "" {
				workDir = project.LocalPath
			}
		}
	}

	info, err := h.terminals.Start(c.ID, workDir, projectID, terminalSink{hub: h})
	if err != nil {
		return err
	}
	h.Send(c.ID, protocol.EventTerminalStarted, protocol.TerminalStartedPayload{
		WorkingDirectory: info.WorkingDirectory,
		ProjectID:        info.ProjectID,
	})
	return nil
}
