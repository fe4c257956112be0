package gateway

import (
	"context"
	"errors"
	"fmt"

	"collabrooms/internal/persistence"
	"collabrooms/internal/protocol"
	"collabrooms/internal/room"
)

// handleFileOp serves the file tree events. Reads wait briefly for a room
// that a concurrent join is still creating and require the connection to be
// joined to it; mutations also require a writable role. Mutations of a room linked
// to a project are written through to the store, and a failed write leaves
// the cached change in place.
func (h *Hub) handleFileOp(ctx context.Context, c *Client, cmd protocol.FileOp) error {
	p, err := persistence.CleanPath(cmd.Path)
	if err != nil {
		return err
	}
	switch cmd.Event {
	case protocol.EventReadFile:
		return h.readFile(ctx, c, cmd.RoomID, p)
	case protocol.EventReadFolder:
		return h.readFolder(ctx, c, cmd.RoomID, p)
	}

	if p == "" {
		return validation("%s cannot target the project root", cmd.Event)
	}
	rm, b, err := h.joined(c, cmd.RoomID)
	if err != nil {
		return err
	}
	if _, err := canWrite(rm, b.userID); err != nil {
		return err
	}
	project, linked := rm.Project()
	if !linked || h.store == nil {
		project.ID = ""
	}

	switch cmd.Event {
	case protocol.EventWriteFile:
		return h.writeFile(ctx, c, rm, b, project.ID, p, cmd.Content)
	case protocol.EventCreateFile:
		return h.createFile(ctx, rm, b, project.ID, p, cmd.Content)
	case protocol.EventDeleteFile:
		return h.deleteFile(ctx, rm, b, project.ID, p)
	case protocol.EventCreateFolder:
		return h.createFolder(ctx, rm, b, project.ID, p)
	case protocol.EventDeleteFolder:
		return h.deleteFolder(ctx, rm, b, project.ID, p)
	}
	return fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, cmd.Event)
}

// readable returns the room once it exists, provided the connection is
// joined to it.
func (h *Hub) readable(ctx context.Context, c *Client, roomID string) (*room.Room, binding, error) {
	rm, err := h.rooms.Await(ctx, roomID, h.opts.RoomWaitTimeout)
	if err != nil {
		return nil, binding{}, err
	}
	b, ok := h.binding(c.ID)
	if !ok || b.roomID != roomID {
		return nil, binding{}, eventError(CodePermissionDenied, fmt.Sprintf("not joined to room %q", roomID))
	}
	return rm, b, nil
}

func (h *Hub) readFile(ctx context.Context, c *Client, roomID, p string) error {
	if p == "" {
		return validation("filePath must name a file")
	}
	rm, b, err := h.readable(ctx, c, roomID)
	if err != nil {
		return err
	}
	f, ok := rm.File(p)
	if !ok {
		project, linked := rm.Project()
		if !linked || h.store == nil {
			return fmt.Errorf("%w: %s", room.ErrFileNotFound, p)
		}
		content, err := h.store.ReadFile(ctx, project.ID, p)
		if err != nil {
			return err
		}
		f = rm.CacheFile(p, content)
	}
	h.presence.Touch(b.userID, roomID, p)
	h.Send(c.ID, protocol.EventFileContent, filePayload(roomID, f, true))
	return nil
}

func (h *Hub) readFolder(ctx context.Context, c *Client, roomID, dir string) error {
	rm, _, err := h.readable(ctx, c, roomID)
	if err != nil {
		return err
	}
	var entries []protocol.FileInfo
	if project, linked := rm.Project(); linked && h.store != nil {
		listed, err := h.store.ListDirectory(ctx, project.ID, dir)
		if err != nil {
			return err
		}
		entries = entryInfos(listed)
	} else {
		if !rm.HasFolder(dir) {
			return fmt.Errorf("%w: %s", room.ErrFileNotFound, dir)
		}
		entries = fileInfos(rm.ListFolder(dir))
	}
	h.Send(c.ID, protocol.EventFolderContent, protocol.FolderPayload{
		RoomID:     roomID,
		FolderPath: dir,
		Entries:    entries,
	})
	return nil
}

func (h *Hub) writeFile(ctx context.Context, c *Client, rm *room.Room, b binding, projectID, p, content string) error {
	f := rm.ApplyContent(p, content, b.userID)
	if projectID != "" {
		if err := h.store.WriteFile(ctx, projectID, p, content); err != nil {
			return err
		}
	}
	h.presence.Touch(b.userID, b.roomID, p)
	h.Send(c.ID, protocol.EventFileSaved, filePayload(b.roomID, f, false))
	h.Broadcast(b.roomID, protocol.EventFileUpdated, filePayload(b.roomID, f, true), c.ID)
	return nil
}

func (h *Hub) createFile(ctx context.Context, rm *room.Room, b binding, projectID, p, content string) error {
	if projectID != "" {
		if _, err := h.store.ReadFile(ctx, projectID, p); err == nil {
			return fmt.Errorf("%w: %s", room.ErrFileExists, p)
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
	}
	if _, err := rm.CreateFile(p, content, b.userID); err != nil {
		return fmt.Errorf("%w: %s", err, p)
	}
	if projectID != "" {
		if err := h.store.WriteFile(ctx, projectID, p, content); err != nil {
			return err
		}
	}
	h.Broadcast(b.roomID, protocol.EventFileCreated, treeChange(b, p), "")
	return nil
}

func (h *Hub) deleteFile(ctx context.Context, rm *room.Room, b binding, projectID, p string) error {
	cached := rm.RemoveFile(p)
	if projectID != "" {
		err := h.store.DeleteFile(ctx, projectID, p)
		if err != nil && !(cached && errors.Is(err, persistence.ErrNotFound)) {
			return err
		}
	} else if !cached {
		return fmt.Errorf("%w: %s", room.ErrFileNotFound, p)
	}
	h.Broadcast(b.roomID, protocol.EventFileDeleted, treeChange(b, p), "")
	h.forgetPath(rm, b.roomID, p)
	return nil
}

func (h *Hub) createFolder(ctx context.Context, rm *room.Room, b binding, projectID, dir string) error {
	rm.AddFolder(dir)
	if projectID != "" {
		if err := h.store.CreateDirectory(ctx, projectID, dir); err != nil {
			return err
		}
	}
	h.Broadcast(b.roomID, protocol.EventFolderCreated, treeChange(b, dir), "")
	return nil
}

func (h *Hub) deleteFolder(ctx context.Context, rm *room.Room, b binding, projectID, dir string) error {
	cached := rm.RemoveFolder(dir)
	if projectID != "" {
		err := h.store.DeleteDirectory(ctx, projectID, dir)
		if err != nil && !(cached && errors.Is(err, persistence.ErrNotFound)) {
			return err
		}
	} else if !cached {
		return fmt.Errorf("%w: %s", room.ErrFileNotFound, dir)
	}
	h.Broadcast(b.roomID, protocol.EventFolderDeleted, treeChange(b, dir), "")
	h.forgetPath(rm, b.roomID, dir)
	return nil
}

// forgetPath drops editor sets and cursors under a deleted path and refreshes
// the room's editor snapshot if any set went away.
func (h *Hub) forgetPath(rm *room.Room, roomID, p string) {
	if snap, changed := rm.ForgetPath(p); changed {
		h.Broadcast(roomID, protocol.EventFileEditors, editorsPayload(roomID, snap), "")
	}
}

func filePayload(roomID string, f room.File, withContent bool) protocol.FilePayload {
	out := protocol.FilePayload{
		RoomID:         roomID,
		FilePath:       f.Path,
		Version:        f.Version,
		LastModifiedBy: f.LastModifiedBy,
		LastModifiedAt: f.LastModifiedAt,
	}
	if withContent {
		out.Content = f.Content
	}
	return out
}

func treeChange(b binding, p string) protocol.TreeChangePayload {
	return protocol.TreeChangePayload{RoomID: b.roomID, Path: p, UserID: b.userID}
}
