package gateway

import (
	"collabrooms/internal/persistence"
	"collabrooms/internal/protocol"
	"collabrooms/internal/room"
)

func userInfo(p room.Participant) protocol.UserInfo {
	return protocol.UserInfo{
		ID:       p.UserID,
		Name:     p.DisplayName,
		Avatar:   p.Avatar,
		Color:    p.Color,
		Role:     p.Role,
		IsActive: p.IsActive,
		LastSeen: p.LastSeen,
	}
}

func userInfos(roster []room.Participant) []protocol.UserInfo {
	out := make([]protocol.UserInfo, 0, len(roster))
	for _, p := range roster {
		out = append(out, userInfo(p))
	}
	return out
}

func editorsPayload(roomID string, snap room.EditorSnapshot) protocol.EditorsPayload {
	return protocol.EditorsPayload{
		RoomID:      roomID,
		FileEditors: snap.FileEditors,
		EditAllowed: snap.EditAllowed,
		MaxEditors:  room.MaxEditors,
	}
}

func cursorInfo(c room.Cursor) protocol.CursorInfo {
	info := protocol.CursorInfo{
		UserID:    c.UserID,
		FilePath:  c.FilePath,
		Line:      c.Line,
		Column:    c.Column,
		Timestamp: c.Timestamp,
	}
	if c.Selection != nil {
		info.Selection = &protocol.Selection{
			StartLine:   c.Selection.StartLine,
			StartColumn: c.Selection.StartColumn,
			EndLine:     c.Selection.EndLine,
			EndColumn:   c.Selection.EndColumn,
		}
	}
	return info
}

func cursorInfos(cursors []room.Cursor) []protocol.CursorInfo {
	out := make([]protocol.CursorInfo, 0, len(cursors))
	for _, c := range cursors {
		out = append(out, cursorInfo(c))
	}
	return out
}

func selection(s *protocol.Selection) *room.Selection {
	if s == nil {
		return nil
	}
	return &room.Selection{
		StartLine:   s.StartLine,
		StartColumn: s.StartColumn,
		EndLine:     s.EndLine,
		EndColumn:   s.EndColumn,
	}
}

func fileInfos(files []room.File) []protocol.FileInfo {
	out := make([]protocol.FileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, protocol.FileInfo{
			Path:           f.Path,
			IsDir:          f.IsDir,
			Version:        f.Version,
			LastModifiedBy: f.LastModifiedBy,
			LastModifiedAt: f.LastModifiedAt,
		})
	}
	return out
}

func entryInfos(entries []persistence.Entry) []protocol.FileInfo {
	out := make([]protocol.FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.FileInfo{
			Path:           e.Path,
			IsDir:          e.IsDir,
			LastModifiedAt: e.ModifiedAt,
		})
	}
	return out
}
