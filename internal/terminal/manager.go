// Package terminal runs one interactive shell per connection and streams its
// output back through the connection's event channel.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

var (
	ErrNoSession   = errors.New("no terminal session for connection")
	ErrStartFailed = errors.New("terminal failed to start")
)

const (
	defaultKillGrace = 2 * time.Second
	outputWaitDelay  = time.Second
	readBufferSize   = 4096
	defaultCols      = 80
	defaultRows      = 24
)

// Sink receives a session's output and its exit status.
type Sink interface {
	TerminalOutput(connID string, data []byte)
	TerminalExit(connID string, code int)
}

type Options struct {
	Shell     string
	Args      []string
	Env       []string
	KillGrace time.Duration
}

// Info describes a running session.
type Info struct {
	ConnectionID     string
	WorkingDirectory string
	ProjectID        string
	PID              int
	StartedAt        time.Time
}

type session struct {
	Info
	cmd  *exec.Cmd
	ptmx *os.File
	read chan struct{}
	done chan struct{}
}

// Manager owns every terminal session, keyed by connection id.
type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(opts Options) *Manager {
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}
	return &Manager{opts: opts, sessions: make(map[string]*session)}
}

// DefaultShell is $SHELL, falling back to /bin/sh.
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Start spawns a shell on a pseudo-terminal in workDir bound to connID. A
// session already bound to the connection is stopped first.
func (m *Manager) Start(connID, workDir, projectID string, sink Sink) (Info, error) {
	m.Stop(connID)

	cmd := exec.Command(m.opts.Shell, m.opts.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, m.opts.Env...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultCols, Rows: defaultRows})
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	s := &session{
		Info: Info{
			ConnectionID:     connID,
			WorkingDirectory: workDir,
			ProjectID:        projectID,
			PID:              cmd.Process.Pid,
			StartedAt:        time.Now(),
		},
		cmd:  cmd,
		ptmx: ptmx,
		read: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.mu.Lock()
	m.sessions[connID] = s
	m.mu.Unlock()
	log.Printf("terminal started for %s (pid %d, dir %s)", connID, s.PID, workDir)

	go s.pump(sink)
	go m.wait(s, sink)
	return s.Info, nil
}

// pump copies pty output to the sink until the pty is closed or the shell's
// side hangs up.
func (s *session) pump(sink Sink) {
	defer close(s.read)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink.TerminalOutput(s.ConnectionID, chunk)
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) wait(s *session, sink Sink) {
	err := s.cmd.Wait()

	// Output still buffered in the pty is delivered before the exit.
	select {
	case <-s.read:
	case <-time.After(outputWaitDelay):
	}
	_ = s.ptmx.Close()
	close(s.done)

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	m.mu.Lock()
	if m.sessions[s.ConnectionID] == s {
		delete(m.sessions, s.ConnectionID)
	}
	m.mu.Unlock()

	log.Printf("terminal for %s exited with code %d", s.ConnectionID, code)
	sink.TerminalExit(s.ConnectionID, code)
}

// Write sends input to the connection's shell. DEL is rewritten to
// backspace.
func (m *Manager) Write(connID, input string) error {
	s, ok := m.get(connID)
	if !ok {
		return ErrNoSession
	}
	if _, err := io.WriteString(s.ptmx, TranslateInput(input)); err != nil {
		return fmt.Errorf("write terminal input: %w", err)
	}
	return nil
}

// Resize is accepted for a live session but leaves the pty at the size it
// was started with.
func (m *Manager) Resize(connID string, cols, rows int) error {
	if _, ok := m.get(connID); !ok {
		return ErrNoSession
	}
	return nil
}

// Stop removes the connection's session and hangs up its shell, killing it
// if it is still alive after the grace period.
func (m *Manager) Stop(connID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[connID]
	if ok {
		delete(m.sessions, connID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	// Interactive shells ignore SIGTERM.
	if err := s.cmd.Process.Signal(syscall.SIGHUP); err != nil {
		_ = s.cmd.Process.Kill()
		return true
	}
	go func() {
		select {
		case <-s.done:
		case <-time.After(m.opts.KillGrace):
			_ = s.cmd.Process.Kill()
		}
	}()
	return true
}

// StopAll terminates every session.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

func (m *Manager) Session(connID string) (Info, bool) {
	s, ok := m.get(connID)
	if !ok {
		return Info{}, false
	}
	return s.Info, true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) get(connID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// TranslateInput rewrites DEL (0x7f) to backspace (0x08).
func TranslateInput(input string) string {
	return strings.ReplaceAll(input, "\x7f", "\b")
}
