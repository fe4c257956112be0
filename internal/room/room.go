// Package room holds the in-memory state of every live collaboration room.
//
// A Room is the sole owner of its roster, editor sets, cursor table and file
// cache. All access goes through the Room's mutex; the Registry owns the
// rooms themselves and discards a Room as soon as its roster empties.
package room

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"collabrooms/internal/persistence"
)

// MaxEditors is the number of users that may hold edit permission on one
// file at the same time.
const MaxEditors = 5

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomClosed     = errors.New("room closed")
	ErrMaxEditors     = errors.New("maximum editors reached")
	ErrNotParticipant = errors.New("user is not a participant of this room")
	ErrFileNotFound   = errors.New("file not found")
	ErrFileExists     = errors.New("file already exists")
)

// Participant is a user's membership in one room, bound to one connection.
type Participant struct {
	UserID       string
	DisplayName  string
	Avatar       string
	Color        string
	Role         string
	ConnectionID string
	JoinedAt     time.Time
	LastSeen     time.Time
	IsActive     bool
}

// Selection is an editor selection range.
type Selection struct {
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Cursor is the last reported caret of a user. It is overwritten on every
// cursor event.
type Cursor struct {
	UserID    string
	FilePath  string
	Line      int
	Column    int
	Selection *Selection
	Timestamp time.Time
}

// File is one cached entry of the room's file tree.
type File struct {
	Path           string
	Content        string
	IsDir          bool
	Version        int64
	LastModifiedBy string
	LastModifiedAt time.Time
}

// EditorSnapshot is the per-room view broadcast after every permission change.
type EditorSnapshot struct {
	FileEditors map[string][]string
	EditAllowed map[string]bool
}

// JoinResult describes what Join did to the roster.
type JoinResult struct {
	Participant Participant
	Roster      []Participant
	// Rejoined is set when the user was already present; PreviousConnection
	// is the connection the participant was bound to before.
	Rejoined           bool
	PreviousConnection string
}

// LeaveResult describes what Leave removed.
type LeaveResult struct {
	Removed        bool
	RoomDeleted    bool
	EditorsChanged bool
	Participant    Participant
	Roster         []Participant
	Editors        EditorSnapshot
}

type Room struct {
	ID        string
	CreatedAt time.Time

	ready chan struct{}

	mu           sync.RWMutex
	closed       bool
	project      *persistence.Project
	participants map[string]*Participant
	editors      map[string]map[string]struct{}
	cursors      map[string]Cursor
	files        map[string]*File
	now          func() time.Time
}

func newRoom(id string, now func() time.Time) *Room {
	return &Room{
		ID:           id,
		CreatedAt:    now(),
		ready:        make(chan struct{}),
		participants: make(map[string]*Participant),
		editors:      make(map[string]map[string]struct{}),
		cursors:      make(map[string]Cursor),
		files:        make(map[string]*File),
		now:          now,
	}
}

// Ready is closed once the room's file cache has been seeded.
func (r *Room) Ready() <-chan struct{} {
	return r.ready
}

// Project returns the persisted project linked to the room, if any.
func (r *Room) Project() (persistence.Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.project == nil {
		return persistence.Project{}, false
	}
	return *r.project, true
}

func (r *Room) join(p Participant) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return JoinResult{}, ErrRoomClosed
	}

	now := r.now()
	var res JoinResult
	if existing, ok := r.participants[p.UserID]; ok {
		res.Rejoined = true
		res.PreviousConnection = existing.ConnectionID
		p.JoinedAt = existing.JoinedAt
	} else {
		p.JoinedAt = now
	}
	p.LastSeen = now
	p.IsActive = true
	r.participants[p.UserID] = &p

	res.Participant = p
	res.Roster = r.rosterLocked()
	return res, nil
}

// leave removes userID when it is still bound to connectionID. An empty
// connectionID matches any binding.
func (r *Room) leave(userID, connectionID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userID]
	if !ok || (connectionID != "" && p.ConnectionID != connectionID) {
		return LeaveResult{}
	}
	delete(r.participants, userID)
	delete(r.cursors, userID)

	res := LeaveResult{Removed: true, Participant: *p}
	for _, set := range r.editors {
		if _, held := set[userID]; held {
			delete(set, userID)
			res.EditorsChanged = true
		}
	}
	if len(r.participants) == 0 {
		r.closed = true
		res.RoomDeleted = true
		return res
	}
	res.Roster = r.rosterLocked()
	res.Editors = r.editorsLocked()
	return res
}

func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.participants) > 0 {
		return false
	}
	r.closed = true
	return true
}

// Roster returns the participants ordered by join time.
func (r *Room) Roster() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

func (r *Room) rosterLocked() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (r *Room) Participant(userID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ConnectionIDs lists the connections bound to participants, minus exclude.
func (r *Room) ConnectionIDs(exclude string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ConnectionID == "" || p.ConnectionID == exclude {
			continue
		}
		out = append(out, p.ConnectionID)
	}
	return out
}

// Touch refreshes a participant's liveness and marks it active.
func (r *Room) Touch(userID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, false
	}
	p.LastSeen = r.now()
	p.IsActive = true
	return *p, true
}

// SetActive flips the participant's active flag without touching LastSeen.
func (r *Room) SetActive(userID string, active bool) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return Participant{}, false
	}
	p.IsActive = active
	return *p, true
}

func (r *Room) SetCursor(c Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[c.UserID]; !ok {
		return ErrNotParticipant
	}
	c.Timestamp = r.now()
	r.cursors[c.UserID] = c
	return nil
}

func (r *Room) Cursors() []Cursor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Cursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ApplyContent overwrites the cached content of a file. Concurrent writers
// are resolved by whoever lands last.
func (r *Room) ApplyContent(filePath, content, userID string) File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(filePath, content, userID)
}

// CreateFile adds a new file, failing if the path is already taken.
func (r *Room) CreateFile(filePath, content, userID string) (File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[filePath]; ok {
		return File{}, ErrFileExists
	}
	return r.putLocked(filePath, content, userID), nil
}

// CacheFile stores content loaded from persistence without bumping the
// version of an entry that is already cached.
func (r *Room) CacheFile(filePath, content string) File {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[filePath]; ok && !f.IsDir {
		return *f
	}
	f := &File{Path: filePath, Content: content, Version: 1, LastModifiedAt: r.now()}
	r.files[filePath] = f
	r.addParentsLocked(filePath)
	return *f
}

func (r *Room) putLocked(filePath, content, userID string) File {
	f, ok := r.files[filePath]
	if !ok || f.IsDir {
		f = &File{Path: filePath}
		r.files[filePath] = f
	}
	f.Content = content
	f.Version++
	f.LastModifiedBy = userID
	f.LastModifiedAt = r.now()
	r.addParentsLocked(filePath)
	return *f
}

func (r *Room) addParentsLocked(filePath string) {
	for dir := path.Dir(filePath); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		if _, ok := r.files[dir]; ok {
			continue
		}
		r.files[dir] = &File{Path: dir, IsDir: true, LastModifiedAt: r.now()}
	}
}

func (r *Room) File(filePath string) (File, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[filePath]
	if !ok || f.IsDir {
		return File{}, false
	}
	return *f, true
}

func (r *Room) AddFolder(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[dir]; ok {
		return
	}
	r.files[dir] = &File{Path: dir, IsDir: true, LastModifiedAt: r.now()}
	r.addParentsLocked(dir)
}

func (r *Room) RemoveFile(filePath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[filePath]
	if !ok || f.IsDir {
		return false
	}
	delete(r.files, filePath)
	return true
}

// RemoveFolder drops a folder and everything below it.
func (r *Room) RemoveFolder(dir string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	prefix := dir + "/"
	for p := range r.files {
		if p == dir || strings.HasPrefix(p, prefix) {
			delete(r.files, p)
			removed = true
		}
	}
	return removed
}

// HasFolder reports whether dir is a cached folder. The root always exists.
func (r *Room) HasFolder(dir string) bool {
	if dir == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[dir]
	return ok && f.IsDir
}

// ListFolder returns the direct children of dir, folders first.
func (r *Room) ListFolder(dir string) []File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []File
	for p, f := range r.files {
		parent := path.Dir(p)
		if parent == "." {
			parent = ""
		}
		if parent != dir {
			continue
		}
		entry := *f
		entry.Content = ""
		out = append(out, entry)
	}
	sortEntries(out)
	return out
}

// Files returns every cached path without content.
func (r *Room) Files() []File {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]File, 0, len(r.files))
	for _, f := range r.files {
		entry := *f
		entry.Content = ""
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func sortEntries(entries []File) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Path < entries[j].Path
	})
}

// Stats is a point-in-time summary of a room.
type Stats struct {
	RoomID       string    `json:"roomId"`
	ProjectID    string    `json:"projectId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants int       `json:"participants"`
	Users        []string  `json:"users"`
	Files        int       `json:"files"`
	Editors      int       `json:"editors"`
	Cursors      int       `json:"cursors"`
}

func (r *Room) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		RoomID:       r.ID,
		CreatedAt:    r.CreatedAt,
		Participants: len(r.participants),
		Cursors:      len(r.cursors),
	}
	if r.project != nil {
		s.ProjectID = r.project.ID
	}
	for _, p := range r.rosterLocked() {
		s.Users = append(s.Users, p.UserID)
	}
	for _, f := range r.files {
		if !f.IsDir {
			s.Files++
		}
	}
	for _, set := range r.editors {
		s.Editors += len(set)
	}
	return s
}
