package room

import (
	"sort"
	"strings"
)

// RequestEdit grants userID edit permission on filePath unless MaxEditors
// other users already hold it. Re-requesting a held permission succeeds
// without changing anything.
func (r *Room) RequestEdit(userID, filePath string) (EditorSnapshot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[userID]; !ok {
		return EditorSnapshot{}, 0, ErrNotParticipant
	}

	set, ok := r.editors[filePath]
	if !ok {
		set = make(map[string]struct{})
		r.editors[filePath] = set
	}
	if _, held := set[userID]; held {
		return r.editorsLocked(), len(set), nil
	}
	if len(set) >= MaxEditors {
		return EditorSnapshot{}, len(set), ErrMaxEditors
	}
	set[userID] = struct{}{}
	return r.editorsLocked(), len(set), nil
}

// ReleaseEdit drops userID from the editor set of filePath. Releasing a
// permission that is not held is not an error.
func (r *Room) ReleaseEdit(userID, filePath string) (EditorSnapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.editors[filePath]
	delete(set, userID)
	return r.editorsLocked(), len(set)
}

func (r *Room) HoldsEdit(userID, filePath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.editors[filePath][userID]
	return ok
}

// Editors returns the snapshot for every tracked file in the room.
func (r *Room) Editors() EditorSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.editorsLocked()
}

func (r *Room) editorsLocked() EditorSnapshot {
	snap := EditorSnapshot{
		FileEditors: make(map[string][]string, len(r.editors)),
		EditAllowed: make(map[string]bool, len(r.editors)),
	}
	for file, set := range r.editors {
		users := make([]string, 0, len(set))
		for u := range set {
			users = append(users, u)
		}
		sort.Strings(users)
		snap.FileEditors[file] = users
		snap.EditAllowed[file] = len(set) < MaxEditors
	}
	return snap
}

// ForgetPath drops the editor sets and cursors of p and of every path below
// it. changed reports whether the editor snapshot is different.
func (r *Room) ForgetPath(p string) (snap EditorSnapshot, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for file := range r.editors {
		if underPath(file, p) {
			delete(r.editors, file)
			changed = true
		}
	}
	for userID, c := range r.cursors {
		if underPath(c.FilePath, p) {
			delete(r.cursors, userID)
		}
	}
	return r.editorsLocked(), changed
}

func underPath(file, p string) bool {
	return file == p || strings.HasPrefix(file, p+"/")
}
