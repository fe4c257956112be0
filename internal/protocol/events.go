// Package protocol defines the named events exchanged over a room connection
// and the decoding of inbound events into typed commands.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound events.
const (
	EventJoinRoom       = "join-room"
	EventLeaveRoom      = "leave-room"
	EventCodeChange     = "code-change"
	EventCodeOperation  = "code-operation"
	EventContentSync    = "realtime-content-sync"
	EventCursorPosition = "cursor-position"
	EventCursorChange   = "cursor-change"
	EventTyping         = "user-typing"
	EventRequestEdit    = "request-edit-permission"
	EventReleaseEdit    = "release-edit-permission"
	EventReadFile       = "read-file"
	EventWriteFile      = "write-file"
	EventReadFolder     = "read-folder"
	EventCreateFile     = "create-file"
	EventDeleteFile     = "delete-file"
	EventCreateFolder   = "create-folder"
	EventDeleteFolder   = "delete-folder"
	EventHeartbeat      = "user-heartbeat"
	EventAway           = "user-away"
	EventBack           = "user-back"
	EventStartTerminal  = "start-terminal"
	EventTerminalInput  = "terminal-input"
	EventTerminalResize = "resize"
	EventStopTerminal   = "stop-terminal"
)

// Outbound events.
const (
	EventRoomJoined        = "room-joined"
	EventRoomUsers         = "room-users"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventEditGranted       = "edit-permission-granted"
	EventEditDenied        = "edit-permission-denied"
	EventEditReleased      = "edit-permission-released"
	EventFileEditors       = "file-editors"
	EventFileContent       = "file-content"
	EventFileSaved         = "file-saved"
	EventFileUpdated       = "file-updated"
	EventFolderContent     = "folder-content"
	EventFileCreated       = "file-created"
	EventFileDeleted       = "file-deleted"
	EventFolderCreated     = "folder-created"
	EventFolderDeleted     = "folder-deleted"
	EventHeartbeatAck      = "heartbeat-ack"
	EventUserStatusChanged = "user-status-changed"
	EventTerminalStarted   = "terminal-started"
	EventTerminalOutput    = "terminal-output"
	EventTerminalExit      = "terminal-exit"
	EventError             = "error"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Encode frames data under the given event name.
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Type: event, Data: data})
}

// Selection is an editor selection range.
type Selection struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// UserInfo is a participant as seen by clients.
type UserInfo struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar,omitempty"`
	Color    string    `json:"color"`
	Role     string    `json:"role,omitempty"`
	IsActive bool      `json:"isActive"`
	LastSeen time.Time `json:"lastSeen"`
}

type FileInfo struct {
	Path           string    `json:"path"`
	IsDir          bool      `json:"isDir"`
	Version        int64     `json:"version,omitempty"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	LastModifiedAt time.Time `json:"lastModifiedAt,omitempty"`
}

type CursorInfo struct {
	UserID    string     `json:"userId"`
	FilePath  string     `json:"filePath"`
	Line      int        `json:"line"`
	Column    int        `json:"column"`
	Selection *Selection `json:"selection,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// EditorsPayload is the full per-room editor snapshot.
type EditorsPayload struct {
	RoomID      string              `json:"roomId"`
	FileEditors map[string][]string `json:"fileEditors"`
	EditAllowed map[string]bool     `json:"editAllowed"`
	MaxEditors  int                 `json:"maxEditors"`
}

type RoomJoinedPayload struct {
	RoomID    string         `json:"roomId"`
	ProjectID string         `json:"projectId,omitempty"`
	Self      UserInfo       `json:"self"`
	Users     []UserInfo     `json:"users"`
	Files     []FileInfo     `json:"files"`
	Cursors   []CursorInfo   `json:"cursors"`
	Editors   EditorsPayload `json:"editors"`
	Rejoined  bool           `json:"rejoined"`
}

type RosterPayload struct {
	RoomID string     `json:"roomId"`
	User   *UserInfo  `json:"user,omitempty"`
	UserID string     `json:"userId,omitempty"`
	Users  []UserInfo `json:"users"`
}

type ContentPayload struct {
	RoomID    string          `json:"roomId"`
	FilePath  string          `json:"filePath"`
	UserID    string          `json:"userId"`
	Content   *string         `json:"content,omitempty"`
	Operation json.RawMessage `json:"operation,omitempty"`
	Version   int64           `json:"version,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type CursorPayload struct {
	RoomID string `json:"roomId"`
	CursorInfo
	Color string `json:"color,omitempty"`
}

type TypingPayload struct {
	RoomID   string `json:"roomId"`
	FilePath string `json:"filePath"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type EditDecisionPayload struct {
	RoomID     string `json:"roomId"`
	FilePath   string `json:"filePath"`
	UserID     string `json:"userId"`
	Editors    int    `json:"editors"`
	MaxEditors int    `json:"maxEditors"`
	Reason     string `json:"reason,omitempty"`
}

type FilePayload struct {
	RoomID         string    `json:"roomId"`
	FilePath       string    `json:"filePath"`
	Content        string    `json:"content"`
	Version        int64     `json:"version"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	LastModifiedAt time.Time `json:"lastModifiedAt,omitempty"`
}

type FolderPayload struct {
	RoomID     string     `json:"roomId"`
	FolderPath string     `json:"folderPath"`
	Entries    []FileInfo `json:"entries"`
}

type TreeChangePayload struct {
	RoomID string `json:"roomId"`
	Path   string `json:"path"`
	UserID string `json:"userId"`
}

type StatusPayload struct {
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId"`
	IsActive     bool      `json:"isActive"`
	CurrentFile  string    `json:"currentFile,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

type HeartbeatAckPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type TerminalStartedPayload struct {
	WorkingDirectory string `json:"workingDirectory"`
	ProjectID        string `json:"projectId,omitempty"`
}

type TerminalOutputPayload struct {
	Data string `json:"data"`
}

type TerminalExitPayload struct {
	Code int `json:"code"`
}

// ErrorPayload is sent only to the connection whose event failed.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
