package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"collabrooms/internal/access"
	"collabrooms/internal/persistence"
	"collabrooms/internal/presence"
	"collabrooms/internal/protocol"
	"collabrooms/internal/room"
)

const readOnlyReason = "read-only access"

// dispatch decodes one inbound frame and routes it. Failures are reported to
// the sending connection only.
func (h *Hub) dispatch(c *Client, frame []byte) {
	if !c.allow() {
		h.sendError(c, "", eventError(CodeRateLimited, "too many events"))
		return
	}
	cmd, err := protocol.Decode(frame)
	if err != nil {
		event := ""
		var ve *protocol.ValidationError
		if errors.As(err, &ve) {
			event = ve.Event
		}
		h.sendError(c, event, classify("decode", err))
		return
	}

	ctx, cancel := h.eventContext()
	defer cancel()
	if err := h.handle(ctx, c, cmd); err != nil {
		h.sendError(c, cmd.EventName(), classify(cmd.EventName(), err))
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd protocol.Command) error {
	switch cmd := cmd.(type) {
	case protocol.JoinRoom:
		return h.handleJoin(ctx, c, cmd)
	case protocol.LeaveRoom:
		return h.handleLeave(c, cmd)
	case protocol.ContentSync:
		return h.handleContent(c, cmd)
	case protocol.CursorMove:
		return h.handleCursor(c, cmd)
	case protocol.Typing:
		return h.handleTyping(c, cmd)
	case protocol.EditPermission:
		return h.handleEditPermission(c, cmd)
	case protocol.FileOp:
		return h.handleFileOp(ctx, c, cmd)
	case protocol.PresenceSignal:
		return h.handlePresence(c, cmd)
	case protocol.StartTerminal:
		return h.handleStartTerminal(c, cmd)
	case protocol.TerminalInput:
		return h.terminals.Write(c.ID, cmd.Data)
	case protocol.TerminalResize:
		return h.terminals.Resize(c.ID, cmd.Cols, cmd.Rows)
	case protocol.StopTerminal:
		if !h.terminals.Stop(c.ID) {
			return errNoTerminal
		}
		return nil
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, cmd.EventName())
}

// joined returns the room the connection is bound to. roomID, when given,
// must match the binding.
func (h *Hub) joined(c *Client, roomID string) (*room.Room, binding, error) {
	b, ok := h.binding(c.ID)
	if !ok || (roomID != "" && b.roomID != roomID) {
		return nil, binding{}, validation("not joined to room %q", roomID)
	}
	rm, ok := h.rooms.Get(b.roomID)
	if !ok {
		return nil, binding{}, fmt.Errorf("%w: %s", room.ErrRoomNotFound, b.roomID)
	}
	return rm, b, nil
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, cmd protocol.JoinRoom) error {
	decision, err := h.access.HasAccess(ctx, cmd.RoomID, cmd.User.ID)
	if err != nil {
		return err
	}
	if !decision.HasAccess {
		return fmt.Errorf("%w to room %s", access.ErrDenied, cmd.RoomID)
	}

	next := binding{roomID: cmd.RoomID, userID: cmd.User.ID}
	if prev, ok := h.binding(c.ID); ok && prev != next {
		h.leave(c.ID, prev)
	}

	p := room.Participant{
		UserID:       cmd.User.ID,
		DisplayName:  cmd.User.Name,
		Avatar:       cmd.User.Avatar,
		Color:        room.ColorFor(cmd.User.ID),
		Role:         string(decision.Role),
		ConnectionID: c.ID,
	}
	rm, res, err := h.rooms.Join(ctx, cmd.RoomID, p)
	if err != nil {
		h.rooms.DropIfEmpty(cmd.RoomID)
		return err
	}
	if res.Rejoined && res.PreviousConnection != "" && res.PreviousConnection != c.ID {
		h.unbind(res.PreviousConnection, next)
		log.Printf("user %s rebound in room %s from %s to %s", cmd.User.ID, cmd.RoomID, res.PreviousConnection, c.ID)
	}
	h.bind(c.ID, next)
	h.presence.Connect(cmd.User.ID, c.ID, cmd.RoomID)

	self := userInfo(res.Participant)
	users := userInfos(res.Roster)
	joined := protocol.RoomJoinedPayload{
		RoomID:   cmd.RoomID,
		Self:     self,
		Users:    users,
		Files:    fileInfos(rm.Files()),
		Cursors:  cursorInfos(rm.Cursors()),
		Editors:  editorsPayload(cmd.RoomID, rm.Editors()),
		Rejoined: res.Rejoined,
	}
	if project, ok := rm.Project(); ok {
		joined.ProjectID = project.ID
	}
	h.Send(c.ID, protocol.EventRoomJoined, joined)
	h.Broadcast(cmd.RoomID, protocol.EventUserJoined, protocol.RosterPayload{
		RoomID: cmd.RoomID,
		User:   &self,
		UserID: self.ID,
		Users:  users,
	}, c.ID)
	h.Broadcast(cmd.RoomID, protocol.EventRoomUsers, protocol.RosterPayload{RoomID: cmd.RoomID, Users: users}, "")

	log.Printf("user %s joined room %s on %s (%d users)", cmd.User.ID, cmd.RoomID, c.ID, len(users))
	return nil
}

func (h *Hub) handleLeave(c *Client, cmd protocol.LeaveRoom) error {
	b, ok := h.binding(c.ID)
	if !ok || b.roomID != cmd.RoomID {
		return validation("not joined to room %q", cmd.RoomID)
	}
	h.leave(c.ID, b)
	return nil
}

// leave drops the connection's binding and removes its participant, then
// tells whoever is left.
func (h *Hub) leave(connID string, b binding) {
	h.unbind(connID, b)
	res, err := h.rooms.Leave(b.roomID, b.userID, connID)
	if err != nil || !res.Removed {
		return
	}
	log.Printf("user %s left room %s", b.userID, b.roomID)
	if res.RoomDeleted {
		return
	}
	users := userInfos(res.Roster)
	h.Broadcast(b.roomID, protocol.EventUserLeft, protocol.RosterPayload{
		RoomID: b.roomID,
		UserID: b.userID,
		Users:  users,
	}, "")
	h.Broadcast(b.roomID, protocol.EventRoomUsers, protocol.RosterPayload{RoomID: b.roomID, Users: users}, "")
	if res.EditorsChanged {
		h.Broadcast(b.roomID, protocol.EventFileEditors, editorsPayload(b.roomID, res.Editors), "")
	}
}

// canWrite rejects participants whose role is read-only.
func canWrite(rm *room.Room, userID string) (room.Participant, error) {
	p, ok := rm.Participant(userID)
	if !ok {
		return room.Participant{}, room.ErrNotParticipant
	}
	if !access.Normalize(p.Role).CanEdit() {
		return p, eventError(CodePermissionDenied, readOnlyReason)
	}
	return p, nil
}

func (h *Hub) handleContent(c *Client, cmd protocol.ContentSync) error {
	filePath, err := cleanFilePath(cmd.FilePath)
	if err != nil {
		return err
	}
	rm, b, err := h.joined(c, cmd.RoomID)
	if err != nil {
		return err
	}
	if _, err := canWrite(rm, b.userID); err != nil {
		return err
	}
	if h.opts.EnforceEditPermission && !rm.HoldsEdit(b.userID, filePath) {
		return eventError(CodePermissionDenied, "edit permission required for "+filePath)
	}

	out := protocol.ContentPayload{
		RoomID:    b.roomID,
		FilePath:  filePath,
		UserID:    b.userID,
		Content:   cmd.Content,
		Operation: cmd.Operation,
		Timestamp: time.Now(),
	}
	if cmd.Content != nil {
		f := rm.ApplyContent(filePath, *cmd.Content, b.userID)
		out.Version = f.Version
		out.Timestamp = f.LastModifiedAt
	}
	rm.Touch(b.userID)
	h.presence.Touch(b.userID, b.roomID, filePath)
	h.Broadcast(b.roomID, cmd.Event, out, c.ID)
	return nil
}

func (h *Hub) handleCursor(c *Client, cmd protocol.CursorMove) error {
	filePath, err := cleanFilePath(cmd.FilePath)
	if err != nil {
		return err
	}
	rm, b, err := h.joined(c, cmd.RoomID)
	if err != nil {
		return err
	}
	cur := room.Cursor{
		UserID:    b.userID,
		FilePath:  filePath,
		Line:      cmd.Line,
		Column:    cmd.Column,
		Selection: selection(cmd.Selection),
	}
	if err := rm.SetCursor(cur); err != nil {
		return err
	}
	p, _ := rm.Touch(b.userID)
	h.presence.Touch(b.userID, b.roomID, filePath)
	cur.Timestamp = time.Now()
	h.Broadcast(b.roomID, cmd.Event, protocol.CursorPayload{
		RoomID:     b.roomID,
		CursorInfo: cursorInfo(cur),
		Color:      p.Color,
	}, c.ID)
	return nil
}

func (h *Hub) handleTyping(c *Client, cmd protocol.Typing) error {
	_, b, err := h.joined(c, cmd.RoomID)
	if err != nil {
		return err
	}
	h.Broadcast(b.roomID, protocol.EventTyping, protocol.TypingPayload{
		RoomID:   b.roomID,
		FilePath: cmd.FilePath,
		UserID:   b.userID,
		IsTyping: cmd.IsTyping,
	}, c.ID)
	return nil
}

// handleEditPermission answers the requester and then sends the full editor
// snapshot to the whole room, requester included.
func (h *Hub) handleEditPermission(c *Client, cmd protocol.EditPermission) error {
	filePath, err := cleanFilePath(cmd.FilePath)
	if err != nil {
		return err
	}
	rm, b, err := h.joined(c, cmd.RoomID)
	if err != nil {
		return err
	}
	decision := protocol.EditDecisionPayload{
		RoomID:     b.roomID,
		FilePath:   filePath,
		UserID:     b.userID,
		MaxEditors: room.MaxEditors,
	}

	if cmd.Release {
		snap, n := rm.ReleaseEdit(b.userID, filePath)
		decision.Editors = n
		h.Send(c.ID, protocol.EventEditReleased, decision)
		h.Broadcast(b.roomID, protocol.EventFileEditors, editorsPayload(b.roomID, snap), "")
		return nil
	}

	if _, err := canWrite(rm, b.userID); err != nil {
		var ee *EventError
		if !errors.As(err, &ee) {
			return err
		}
		decision.Reason = readOnlyReason
		h.Send(c.ID, protocol.EventEditDenied, decision)
		return nil
	}
	snap, n, err := rm.RequestEdit(b.userID, filePath)
	decision.Editors = n
	switch {
	case errors.Is(err, room.ErrMaxEditors):
		decision.Reason = room.ErrMaxEditors.Error()
		h.Send(c.ID, protocol.EventEditDenied, decision)
		return nil
	case err != nil:
		return err
	}
	rm.Touch(b.userID)
	h.presence.Touch(b.userID, b.roomID, filePath)
	h.Send(c.ID, protocol.EventEditGranted, decision)
	h.Broadcast(b.roomID, protocol.EventFileEditors, editorsPayload(b.roomID, snap), "")
	return nil
}

func (h *Hub) handlePresence(c *Client, cmd protocol.PresenceSignal) error {
	b, ok := h.binding(c.ID)
	if !ok {
		return validation("%s requires a joined room", cmd.Event)
	}
	rm, _ := h.rooms.Get(b.roomID)

	switch cmd.Event {
	case protocol.EventHeartbeat:
		rec, ok := h.presence.Touch(b.userID, b.roomID, cmd.CurrentFile)
		if rm != nil {
			rm.Touch(b.userID)
		}
		ack := protocol.HeartbeatAckPayload{Timestamp: time.Now()}
		if ok {
			ack.Timestamp = rec.LastActivity
		}
		h.Send(c.ID, protocol.EventHeartbeatAck, ack)
		return nil

	case protocol.EventAway, protocol.EventBack:
		active := cmd.Event == protocol.EventBack
		var (
			rec presence.Record
			ok  bool
		)
		if active {
			rec, ok = h.presence.MarkBack(b.userID)
		} else {
			rec, ok = h.presence.MarkAway(b.userID)
		}
		if !ok {
			return nil
		}
		if rm != nil {
			rm.SetActive(b.userID, active)
		}
		h.Broadcast(b.roomID, protocol.EventUserStatusChanged, statusPayload(b.roomID, rec), "")
		return nil
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, cmd.Event)
}

// markIdle is the presence sweep callback.
func (h *Hub) markIdle(rec presence.Record) {
	if rec.RoomID == "" {
		return
	}
	if rm, ok := h.rooms.Get(rec.RoomID); ok {
		rm.SetActive(rec.UserID, false)
	}
	h.Broadcast(rec.RoomID, protocol.EventUserStatusChanged, statusPayload(rec.RoomID, rec), "")
}

// RunPresenceSweep marks idle users away until ctx is done.
func (h *Hub) RunPresenceSweep(ctx context.Context, interval, idleAfter time.Duration) {
	if interval <= 0 || idleAfter <= 0 {
		return
	}
	h.presence.Sweep(ctx, interval, idleAfter, h.markIdle)
}

func statusPayload(roomID string, rec presence.Record) protocol.StatusPayload {
	return protocol.StatusPayload{
		RoomID:       roomID,
		UserID:       rec.UserID,
		IsActive:     rec.IsActive,
		CurrentFile:  rec.CurrentFile,
		LastActivity: rec.LastActivity,
	}
}

func cleanFilePath(p string) (string, error) {
	clean, err := persistence.CleanPath(p)
	if err != nil {
		return "", err
	}
	if clean == "" {
		return "", validation("filePath must name a file")
	}
	return clean, nil
}
