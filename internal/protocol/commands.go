package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownEvent = errors.New("unknown event")

// ValidationError reports a malformed inbound event.
type ValidationError struct {
	Event  string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", e.Event, e.Field, e.Reason)
}

func missing(event, field string) error {
	return &ValidationError{Event: event, Field: field, Reason: "is required"}
}

// Command is one validated inbound event.
type Command interface {
	EventName() string
}

// User accepts either a bare id string or an object.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &u.ID)
	}
	var raw struct {
		ID       string `json:"id"`
		UserID   string `json:"userId"`
		Name     string `json:"name"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = firstNonEmpty(raw.ID, raw.UserID)
	u.Name = firstNonEmpty(raw.Name, raw.Username)
	u.Avatar = raw.Avatar
	return nil
}

type JoinRoom struct {
	RoomID string
	User   User
}

type LeaveRoom struct {
	RoomID string
}

// ContentSync covers code-change, code-operation and realtime-content-sync.
type ContentSync struct {
	Event     string
	RoomID    string
	FilePath  string
	Content   *string
	Operation json.RawMessage
}

// CursorMove covers cursor-position and cursor-change.
type CursorMove struct {
	Event     string
	RoomID    string
	FilePath  string
	Line      int
	Column    int
	Selection *Selection
}

type Typing struct {
	RoomID   string
	FilePath string
	IsTyping bool
}

type EditPermission struct {
	Release  bool
	RoomID   string
	FilePath string
}

// FileOp covers the read/write/create/delete file and folder events.
type FileOp struct {
	Event   string
	RoomID  string
	Path    string
	Content string
}

// PresenceSignal covers user-heartbeat, user-away and user-back.
type PresenceSignal struct {
	Event       string
	RoomID      string
	CurrentFile string
}

type StartTerminal struct {
	RoomID string
}

type TerminalInput struct {
	Data string
}

type TerminalResize struct {
	Cols int
	Rows int
}

type StopTerminal struct{}

func (JoinRoom) EventName() string         { return EventJoinRoom }
func (LeaveRoom) EventName() string        { return EventLeaveRoom }
func (c ContentSync) EventName() string    { return c.Event }
func (c CursorMove) EventName() string     { return c.Event }
func (Typing) EventName() string           { return EventTyping }
func (c FileOp) EventName() string         { return c.Event }
func (c PresenceSignal) EventName() string { return c.Event }
func (StartTerminal) EventName() string    { return EventStartTerminal }
func (TerminalInput) EventName() string    { return EventTerminalInput }
func (TerminalResize) EventName() string   { return EventTerminalResize }
func (StopTerminal) EventName() string     { return EventStopTerminal }

func (c EditPermission) EventName() string {
	if c.Release {
		return EventReleaseEdit
	}
	return EventRequestEdit
}

// payload is the superset of fields carried by inbound events. Aliases seen
// in the wild (path vs filePath, input vs data) are folded in normalize.
type payload struct {
	RoomID      string          `json:"roomId"`
	User        *User           `json:"user"`
	UserID      string          `json:"userId"`
	FilePath    string          `json:"filePath"`
	FolderPath  string          `json:"folderPath"`
	Path        string          `json:"path"`
	Content     *string         `json:"content"`
	Operation   json.RawMessage `json:"operation"`
	Line        int             `json:"line"`
	Column      int             `json:"column"`
	Position    *position       `json:"position"`
	Selection   *Selection      `json:"selection"`
	IsTyping    *bool           `json:"isTyping"`
	CurrentFile string          `json:"currentFile"`
	Input       string          `json:"input"`
	Data        string          `json:"data"`
	Cols        int             `json:"cols"`
	Rows        int             `json:"rows"`
}

type position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Decode parses one frame and returns the validated command for it.
func Decode(frame []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &ValidationError{Event: "frame", Reason: "is not valid JSON"}
	}
	event := strings.TrimSpace(env.Type)
	if event == "" {
		return nil, missing("frame", "type")
	}

	var p payload
	if event == EventTerminalInput && isJSONString(env.Data) {
		if err := json.Unmarshal(env.Data, &p.Data); err != nil {
			return nil, &ValidationError{Event: event, Field: "data", Reason: "is malformed"}
		}
	} else if len(env.Data) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, &ValidationError{Event: event, Field: "data", Reason: "is malformed"}
		}
	}
	p.normalize()

	switch event {
	case EventJoinRoom:
		if p.RoomID == "" {
			return nil, missing(event, "roomId")
		}
		user := User{ID: p.UserID}
		if p.User != nil {
			user = *p.User
			if user.ID == "" {
				user.ID = p.UserID
			}
		}
		if user.ID == "" {
			return nil, missing(event, "user.id")
		}
		if user.Name == "" {
			user.Name = user.ID
		}
		return JoinRoom{RoomID: p.RoomID, User: user}, nil

	case EventLeaveRoom:
		if p.RoomID == "" {
			return nil, missing(event, "roomId")
		}
		return LeaveRoom{RoomID: p.RoomID}, nil

	case EventCodeChange, EventCodeOperation, EventContentSync:
		if err := requireFields(event, p.RoomID, p.FilePath); err != nil {
			return nil, err
		}
		if event != EventCodeOperation && p.Content == nil {
			return nil, missing(event, "content")
		}
		if event == EventCodeOperation && p.Content == nil && len(p.Operation) == 0 {
			return nil, missing(event, "operation")
		}
		return ContentSync{Event: event, RoomID: p.RoomID, FilePath: p.FilePath, Content: p.Content, Operation: p.Operation}, nil

	case EventCursorPosition, EventCursorChange:
		if err := requireFields(event, p.RoomID, p.FilePath); err != nil {
			return nil, err
		}
		if p.Line < 0 || p.Column < 0 {
			return nil, &ValidationError{Event: event, Field: "position", Reason: "must not be negative"}
		}
		return CursorMove{Event: event, RoomID: p.RoomID, FilePath: p.FilePath, Line: p.Line, Column: p.Column, Selection: p.Selection}, nil

	case EventTyping:
		if err := requireFields(event, p.RoomID, p.FilePath); err != nil {
			return nil, err
		}
		typing := true
		if p.IsTyping != nil {
			typing = *p.IsTyping
		}
		return Typing{RoomID: p.RoomID, FilePath: p.FilePath, IsTyping: typing}, nil

	case EventRequestEdit, EventReleaseEdit:
		if err := requireFields(event, p.RoomID, p.FilePath); err != nil {
			return nil, err
		}
		return EditPermission{Release: event == EventReleaseEdit, RoomID: p.RoomID, FilePath: p.FilePath}, nil

	case EventReadFile, EventWriteFile, EventCreateFile, EventDeleteFile:
		if err := requireFields(event, p.RoomID, p.FilePath); err != nil {
			return nil, err
		}
		op := FileOp{Event: event, RoomID: p.RoomID, Path: p.FilePath}
		if p.Content != nil {
			op.Content = *p.Content
		} else if event == EventWriteFile {
			return nil, missing(event, "content")
		}
		return op, nil

	case EventReadFolder, EventCreateFolder, EventDeleteFolder:
		if p.RoomID == "" {
			return nil, missing(event, "roomId")
		}
		if event != EventReadFolder && p.FolderPath == "" {
			return nil, missing(event, "folderPath")
		}
		return FileOp{Event: event, RoomID: p.RoomID, Path: p.FolderPath}, nil

	case EventHeartbeat, EventAway, EventBack:
		return PresenceSignal{Event: event, RoomID: p.RoomID, CurrentFile: p.CurrentFile}, nil

	case EventStartTerminal:
		return StartTerminal{RoomID: p.RoomID}, nil

	case EventTerminalInput:
		if p.Data == "" {
			return nil, missing(event, "data")
		}
		return TerminalInput{Data: p.Data}, nil

	case EventTerminalResize:
		return TerminalResize{Cols: p.Cols, Rows: p.Rows}, nil

	case EventStopTerminal:
		return StopTerminal{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

func (p *payload) normalize() {
	p.RoomID = strings.TrimSpace(p.RoomID)
	p.UserID = strings.TrimSpace(p.UserID)
	if p.FilePath == "" {
		p.FilePath = p.Path
	}
	if p.FolderPath == "" {
		p.FolderPath = p.Path
	}
	if p.Data == "" {
		p.Data = p.Input
	}
	if p.Position != nil && p.Line == 0 && p.Column == 0 {
		p.Line, p.Column = p.Position.Line, p.Position.Column
	}
}

func requireFields(event, roomID, filePath string) error {
	if roomID == "" {
		return missing(event, "roomId")
	}
	if filePath == "" {
		return missing(event, "filePath")
	}
	return nil
}

func isJSONString(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == '"'
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
