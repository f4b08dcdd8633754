package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"minikv/internal/logs"
	"minikv/internal/metrics"
	"minikv/internal/retry"
	"minikv/internal/store"
)

// DefaultAutosaveFile is the snapshot written on every disconnect.
const DefaultAutosaveFile = "autosave.json"

// Options configures the sessions a Manager opens.
type Options struct {
	DataDir      string
	AutosaveFile string
	ReapInterval time.Duration
	SaveRetry    retry.Policy
}

// Info is a point-in-time description of a live session.
type Info struct {
	Seq      uint64    `json:"seq"`
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	State    string    `json:"state"`
	Keys     int       `json:"keys"`
	OpenedAt time.Time `json:"opened_at"`
}

// Manager opens sessions for any transport and tracks the live ones.
type Manager struct {
	opts    Options
	logger  *logs.Logger
	metrics *metrics.Registry

	mu       sync.Mutex
	nextSeq  uint64
	sessions map[uint64]*Session
	reserved map[string]struct{}
}

// NewManager creates a session manager. A nil logger or registry is
// replaced by a private one.
func NewManager(opts Options, logger *logs.Logger, reg *metrics.Registry) *Manager {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.AutosaveFile == "" {
		opts.AutosaveFile = DefaultAutosaveFile
	}
	if logger == nil {
		logger = logs.Discard()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Manager{
		opts:     opts,
		logger:   logger,
		metrics:  reg,
		sessions: make(map[uint64]*Session),
		reserved: make(map[string]struct{}),
	}
}

// IDFor derives the base session identity from a remote address. Clients
// from the same host share it, and with it an autosave location, as long
// as they are not connected at the same time.
func IDFor(remote string) string {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	if host == "" {
		host = "local"
	}
	var b strings.Builder
	b.WriteString("client_")
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Open runs the Created phase for a new connection and returns the session
// in the Active state.
//
// A host normally maps to one identity, so a reconnecting client gets its
// autosave back. While that identity is held by a live session, a second
// connection from the same host gets its own identity suffixed with its
// sequence number, so two live sessions never share a snapshot directory.
func (m *Manager) Open(remote string) *Session {
	m.mu.Lock()
	m.nextSeq++
	seq := m.nextSeq
	id := IDFor(remote)
	if m.heldLocked(id) {
		id = fmt.Sprintf("%s_%d", id, seq)
	}
	m.reserved[id] = struct{}{}
	m.mu.Unlock()

	dir := filepath.Join(m.opts.DataDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.logger.Warn("could not create session directory", "session", id, "dir", dir, "err", err)
	}

	s := &Session{
		seq:      seq,
		id:       id,
		remote:   remote,
		dir:      dir,
		autosave: filepath.Join(dir, m.opts.AutosaveFile),
		openedAt: time.Now(),
		store:    store.NewStore(m.metrics, m.logger, store.WithReapInterval(m.opts.ReapInterval)),
		logger:   m.logger,
		metrics:  m.metrics,
		policy:   m.opts.SaveRetry,
		onClose:  m.forget,
	}
	s.state.Store(int32(Created))
	s.restore()
	s.state.Store(int32(Active))

	m.mu.Lock()
	delete(m.reserved, id)
	m.sessions[seq] = s
	m.mu.Unlock()

	m.metrics.Inc(metrics.SessionsOpenedTotal)
	m.metrics.Inc(metrics.SessionsActive)
	m.logger.Info("session opened", "session", id, "remote", remote, "seq", seq)
	return s
}

// heldLocked reports whether id belongs to a session that is opening or
// live. Callers must hold m.mu.
func (m *Manager) heldLocked(id string) bool {
	if _, ok := m.reserved[id]; ok {
		return true
	}
	for _, s := range m.sessions {
		if s.id == id {
			return true
		}
	}
	return false
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	_, ok := m.sessions[s.seq]
	delete(m.sessions, s.seq)
	m.mu.Unlock()

	if ok {
		m.metrics.Inc(metrics.SessionsClosedTotal)
		m.metrics.Dec(metrics.SessionsActive)
		m.logger.Info("session closed", "session", s.id, "remote", s.remote, "seq", s.seq)
	}
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List describes the live sessions ordered by opening sequence.
func (m *Manager) List() []Info {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })

	out := make([]Info, 0, len(live))
	for _, s := range live {
		out = append(out, Info{
			Seq:      s.seq,
			ID:       s.id,
			Remote:   s.remote,
			State:    s.State().String(),
			Keys:     s.store.Size(),
			OpenedAt: s.openedAt,
		})
	}
	return out
}

// CloseAll closes every live session, running their autosaves in
// parallel, and returns once all of them are Closed.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range live {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(ctx)
		}(s)
	}
	wg.Wait()
}
