package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrooms/internal/persistence"
)

func participant(userID, connID string) Participant {
	return Participant{UserID: userID, DisplayName: userID, Color: ColorFor(userID), Role: "editor", ConnectionID: connID}
}

func join(t *testing.T, g *Registry, roomID, userID, connID string) (*Room, JoinResult) {
	t.Helper()
	rm, res, err := g.Join(context.Background(), roomID, participant(userID, connID))
	require.NoError(t, err)
	return rm, res
}

func TestJoinCreatesRoomWithDemoFiles(t *testing.T) {
	g := NewRegistry(nil)

	rm, res := join(t, g, "r1", "alice", "c1")
	assert.False(t, res.Rejoined)
	assert.Equal(t, 1, g.Len())
	require.Len(t, res.Roster, 1)
	assert.Equal(t, "alice", res.Roster[0].UserID)
	assert.True(t, res.Participant.IsActive)

	f, ok := rm.File("main.js")
	require.True(t, ok)
	assert.Equal(t, int64(1), f.Version)
	assert.True(t, rm.HasFolder("src"))
	_, linked := rm.Project()
	assert.False(t, linked)
}

func TestJoinLinksPersistedProject(t *testing.T) {
	store := persistence.NewMemoryStore()
	store.AddProject(persistence.Project{ID: "p1", RoomID: "r1", LocalPath: "/srv/p1"})
	require.NoError(t, store.WriteFile(context.Background(), "p1", "app/main.go", "package main"))

	g := NewRegistry(store)
	rm, _ := join(t, g, "r1", "alice", "c1")

	project, linked := rm.Project()
	require.True(t, linked)
	assert.Equal(t, "p1", project.ID)

	f, ok := rm.File("app/main.go")
	require.True(t, ok)
	assert.Equal(t, "package main", f.Content)
	_, ok = rm.File("index.html")
	assert.False(t, ok, "linked rooms do not get the demo tree")
}

func TestLeaveOfLastParticipantDeletesRoom(t *testing.T) {
	g := NewRegistry(nil)
	join(t, g, "r1", "alice", "c1")
	join(t, g, "r1", "bob", "c2")

	res, err := g.Leave("r1", "alice", "c1")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.False(t, res.RoomDeleted)
	require.Len(t, res.Roster, 1)
	assert.Equal(t, "bob", res.Roster[0].UserID)

	res, err = g.Leave("r1", "bob", "c2")
	require.NoError(t, err)
	assert.True(t, res.RoomDeleted)
	_, ok := g.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, g.Len())

	_, err = g.Leave("r1", "bob", "c2")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRejoinKeepsRoomAndRebindsConnection(t *testing.T) {
	g := NewRegistry(nil)
	join(t, g, "r1", "alice", "c1")
	first, _ := g.Get("r1")

	rm, res := join(t, g, "r1", "alice", "c2")
	assert.Same(t, first, rm)
	assert.True(t, res.Rejoined)
	assert.Equal(t, "c1", res.PreviousConnection)
	assert.Len(t, res.Roster, 1)

	res2, err := g.Leave("r1", "alice", "c1")
	require.NoError(t, err)
	assert.False(t, res2.Removed, "a stale connection must not remove the rebound participant")
	p, ok := rm.Participant("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", p.ConnectionID)
}

func TestRoomIsRecreatedAfterDeletion(t *testing.T) {
	g := NewRegistry(nil)
	first, _ := join(t, g, "r1", "alice", "c1")
	first.ApplyContent("main.js", "changed", "alice")
	_, err := g.Leave("r1", "alice", "c1")
	require.NoError(t, err)

	second, _ := join(t, g, "r1", "alice", "c2")
	assert.NotSame(t, first, second)
	f, _ := second.File("main.js")
	assert.NotEqual(t, "changed", f.Content, "state does not survive the room")
}

func TestEditPermissionCap(t *testing.T) {
	g := NewRegistry(nil)
	var rm *Room
	for i := 0; i < MaxEditors+1; i++ {
		rm, _ = join(t, g, "r1", fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i))
	}

	for i := 0; i < MaxEditors; i++ {
		snap, n, err := rm.RequestEdit(fmt.Sprintf("u%d", i), "main.js")
		require.NoError(t, err)
		assert.Equal(t, i+1, n)
		assert.Equal(t, i+1 < MaxEditors, snap.EditAllowed["main.js"])
	}

	_, n, err := rm.RequestEdit("u5", "main.js")
	assert.ErrorIs(t, err, ErrMaxEditors)
	assert.Equal(t, MaxEditors, n)

	snap, n, err := rm.RequestEdit("u0", "main.js")
	require.NoError(t, err, "re-requesting a held permission succeeds")
	assert.Equal(t, MaxEditors, n)
	assert.Len(t, snap.FileEditors["main.js"], MaxEditors)

	snap, n = rm.ReleaseEdit("u0", "main.js")
	assert.Equal(t, MaxEditors-1, n)
	assert.True(t, snap.EditAllowed["main.js"])

	_, _, err = rm.RequestEdit("u5", "main.js")
	require.NoError(t, err)
	assert.True(t, rm.HoldsEdit("u5", "main.js"))
}

func TestReleaseIsIdempotentAndSnapshotCoversAllFiles(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")
	join(t, g, "r1", "bob", "c2")

	_, _, err := rm.RequestEdit("alice", "a.js")
	require.NoError(t, err)
	_, _, err = rm.RequestEdit("bob", "b.js")
	require.NoError(t, err)

	snap, n := rm.ReleaseEdit("alice", "never-held.js")
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"alice"}, snap.FileEditors["a.js"])
	assert.Equal(t, []string{"bob"}, snap.FileEditors["b.js"])

	rm.ReleaseEdit("alice", "a.js")
	snap, _ = rm.ReleaseEdit("alice", "a.js")
	assert.Empty(t, snap.FileEditors["a.js"])
	assert.True(t, snap.EditAllowed["a.js"])
}

func TestRequestEditRequiresParticipant(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")

	_, _, err := rm.RequestEdit("mallory", "main.js")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestLeaveDropsEditorsAndCursor(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")
	join(t, g, "r1", "bob", "c2")

	_, _, err := rm.RequestEdit("alice", "main.js")
	require.NoError(t, err)
	require.NoError(t, rm.SetCursor(Cursor{UserID: "alice", FilePath: "main.js", Line: 3}))

	res, err := g.Leave("r1", "alice", "")
	require.NoError(t, err)
	assert.True(t, res.EditorsChanged)
	assert.Empty(t, res.Editors.FileEditors["main.js"])
	assert.Empty(t, rm.Cursors())
	assert.False(t, rm.HoldsEdit("alice", "main.js"))
}

func TestForgetPathDropsEditorsAndCursorsBelowIt(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")
	join(t, g, "r1", "bob", "c2")

	_, _, err := rm.RequestEdit("alice", "src/utils.js")
	require.NoError(t, err)
	_, _, err = rm.RequestEdit("bob", "main.js")
	require.NoError(t, err)
	require.NoError(t, rm.SetCursor(Cursor{UserID: "alice", FilePath: "src/utils.js", Line: 2}))
	require.NoError(t, rm.SetCursor(Cursor{UserID: "bob", FilePath: "main.js"}))

	snap, changed := rm.ForgetPath("src")
	assert.True(t, changed)
	assert.NotContains(t, snap.FileEditors, "src/utils.js")
	assert.Equal(t, []string{"bob"}, snap.FileEditors["main.js"])
	require.Len(t, rm.Cursors(), 1)
	assert.Equal(t, "bob", rm.Cursors()[0].UserID)

	_, changed = rm.ForgetPath("srcx")
	assert.False(t, changed)
	_, changed = rm.ForgetPath("main")
	assert.False(t, changed, "a sibling sharing a prefix is kept")
	assert.True(t, rm.HoldsEdit("bob", "main.js"))
}

func TestCursorOverwrite(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")

	require.NoError(t, rm.SetCursor(Cursor{UserID: "alice", FilePath: "a.js", Line: 1, Column: 2}))
	require.NoError(t, rm.SetCursor(Cursor{UserID: "alice", FilePath: "b.js", Line: 7, Column: 0, Selection: &Selection{EndLine: 8}}))

	cursors := rm.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, "b.js", cursors[0].FilePath)
	assert.Equal(t, 7, cursors[0].Line)
	require.NotNil(t, cursors[0].Selection)
	assert.False(t, cursors[0].Timestamp.IsZero())

	assert.ErrorIs(t, rm.SetCursor(Cursor{UserID: "ghost"}), ErrNotParticipant)
}

func TestContentLastWriterWins(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")

	f1 := rm.ApplyContent("main.js", "one", "alice")
	f2 := rm.ApplyContent("main.js", "two", "bob")
	assert.Equal(t, f1.Version+1, f2.Version)

	f, ok := rm.File("main.js")
	require.True(t, ok)
	assert.Equal(t, "two", f.Content)
	assert.Equal(t, "bob", f.LastModifiedBy)
}

func TestFileTree(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")

	_, err := rm.CreateFile("main.js", "", "alice")
	assert.ErrorIs(t, err, ErrFileExists)

	_, err = rm.CreateFile("lib/deep/x.js", "x", "alice")
	require.NoError(t, err)
	assert.True(t, rm.HasFolder("lib"))
	assert.True(t, rm.HasFolder("lib/deep"))

	entries := rm.ListFolder("lib")
	require.Len(t, entries, 1)
	assert.Equal(t, File{Path: "lib/deep", IsDir: true, LastModifiedAt: entries[0].LastModifiedAt}, entries[0])

	root := rm.ListFolder("")
	require.NotEmpty(t, root)
	assert.True(t, root[0].IsDir, "folders are listed first")

	assert.True(t, rm.RemoveFolder("lib"))
	_, ok := rm.File("lib/deep/x.js")
	assert.False(t, ok)
	assert.False(t, rm.RemoveFolder("lib"))

	assert.True(t, rm.RemoveFile("README.md"))
	assert.False(t, rm.RemoveFile("README.md"))
	assert.False(t, rm.RemoveFile("src"), "folders are not removed as files")
}

func TestCacheFileDoesNotOverwriteLiveContent(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")

	rm.ApplyContent("notes.txt", "live", "alice")
	f := rm.CacheFile("notes.txt", "stale from disk")
	assert.Equal(t, "live", f.Content)
}

func TestAwaitTimesOutForMissingRoom(t *testing.T) {
	g := NewRegistry(nil)

	start := time.Now()
	_, err := g.Await(context.Background(), "nowhere", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Empty(t, g.pending, "waiters clean up after themselves")
}

func TestAwaitWakesWhenRoomIsCreated(t *testing.T) {
	g := NewRegistry(nil)

	got := make(chan *Room, 1)
	go func() {
		rm, err := g.Await(context.Background(), "r1", 2*time.Second)
		if err != nil {
			got <- nil
			return
		}
		got <- rm
	}()

	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.pending["r1"] != nil
	}, time.Second, 5*time.Millisecond)

	rm, _ := join(t, g, "r1", "alice", "c1")
	select {
	case awaited := <-got:
		assert.Same(t, rm, awaited)
	case <-time.After(time.Second):
		t.Fatal("Await did not wake up on room creation")
	}
}

func TestAwaitReturnsExistingRoom(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")

	awaited, err := g.Await(context.Background(), "r1", time.Second)
	require.NoError(t, err)
	assert.Same(t, rm, awaited)
}

func TestConcurrentJoinAndLeave(t *testing.T) {
	g := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			conn := fmt.Sprintf("c%d", i)
			_, _, err := g.Join(context.Background(), "busy", participant(user, conn))
			if !assert.NoError(t, err) {
				return
			}
			_, err = g.Leave("busy", user, conn)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, g.Len(), "the room goes away once everyone has left")
}

func TestDropIfEmpty(t *testing.T) {
	g := NewRegistry(nil)
	_, _, err := g.GetOrCreate(context.Background(), "r1")
	require.NoError(t, err)

	assert.True(t, g.DropIfEmpty("r1"))
	assert.False(t, g.DropIfEmpty("r1"))

	join(t, g, "r2", "alice", "c1")
	assert.False(t, g.DropIfEmpty("r2"))
}

func TestStats(t *testing.T) {
	g := NewRegistry(nil)
	rm, _ := join(t, g, "r1", "alice", "c1")
	join(t, g, "r1", "bob", "c2")
	_, _, err := rm.RequestEdit("bob", "main.js")
	require.NoError(t, err)

	s := rm.Stats()
	assert.Equal(t, "r1", s.RoomID)
	assert.Equal(t, 2, s.Participants)
	assert.Equal(t, []string{"alice", "bob"}, s.Users)
	assert.Equal(t, len(demoFiles), s.Files)
	assert.Equal(t, 1, s.Editors)
}

func TestColorForIsDeterministic(t *testing.T) {
	assert.Equal(t, ColorFor("alice"), ColorFor("alice"))
	assert.Contains(t, palette, ColorFor("bob"))

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		seen[ColorFor(fmt.Sprintf("user-%d", i))] = true
	}
	assert.Greater(t, len(seen), 1, "ids spread over the palette")
}
