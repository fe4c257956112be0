// Package persistence is the durable project and file storage consumed by
// rooms. Rooms only read from it when they are created and write through to
// it on file mutations; nothing in a room's lifecycle depends on it being
// present.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidPath = errors.New("invalid path")
	ErrStopWalk    = errors.New("stop walk")
)

// Project is a persisted workspace that a room can be linked to.
type Project struct {
	ID        string    `json:"id" bson:"_id"`
	RoomID    string    `json:"roomId" bson:"room_id"`
	Name      string    `json:"name" bson:"name"`
	OwnerID   string    `json:"ownerId" bson:"owner_id"`
	LocalPath string    `json:"localPath,omitempty" bson:"local_path,omitempty"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

// Entry is one item of a directory listing.
type Entry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsDir      bool      `json:"isDir"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Store is the persistence collaborator. Paths are slash separated and
// relative to the project root; the root itself is "".
type Store interface {
	FindProjectByRoom(ctx context.Context, roomID string) (Project, error)
	ReadFile(ctx context.Context, projectID, filePath string) (string, error)
	WriteFile(ctx context.Context, projectID, filePath, content string) error
	ListDirectory(ctx context.Context, projectID, dir string) ([]Entry, error)
	CreateDirectory(ctx context.Context, projectID, dir string) error
	DeleteFile(ctx context.Context, projectID, filePath string) error
	DeleteDirectory(ctx context.Context, projectID, dir string) error
}

// CleanPath normalises a client supplied path and rejects anything that
// escapes the project root.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" || p == "/" || p == "." {
		return "", nil
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean("/" + p)
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

// Walk visits every entry below dir depth first. Returning ErrStopWalk from
// fn ends the walk without error.
func Walk(ctx context.Context, s Store, projectID, dir string, fn func(Entry) error) error {
	err := walk(ctx, s, projectID, dir, fn)
	if errors.Is(err, ErrStopWalk) {
		return nil
	}
	return err
}

func walk(ctx context.Context, s Store, projectID, dir string, fn func(Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := s.ListDirectory(ctx, projectID, dir)
	if err != nil {
		return fmt.Errorf("list %q: %w", dir, err)
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
		if e.IsDir {
			if err := walk(ctx, s, projectID, e.Path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}
