// Package session binds one isolated store to one client connection.
//
// A session moves through Created, Active, Closing and Closed. It loads
// its autosave snapshot on open and writes it back on close; neither step
// can fail the session itself.
package session

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"minikv/internal/logs"
	"minikv/internal/metrics"
	"minikv/internal/retry"
	"minikv/internal/snapshot"
	"minikv/internal/store"

	"github.com/pkg/errors"
)

// State is a session lifecycle phase.
type State int32

const (
	Created State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrBadName is returned for snapshot names that do not stay inside the
// session directory.
var ErrBadName = errors.New("session: invalid snapshot name")

// Session owns one Store for the lifetime of one client connection.
type Session struct {
	seq      uint64
	id       string
	remote   string
	dir      string
	autosave string
	openedAt time.Time

	state   atomic.Int32
	store   *store.Store
	logger  *logs.Logger
	metrics *metrics.Registry
	policy  retry.Policy

	closeOnce sync.Once
	onClose   func(*Session)
}

func (s *Session) ID() string { return s.id }
func (s *Session) Remote() string { return s.remote }
func (s *Session) Dir() string { return s.dir }
func (s *Session) OpenedAt() time.Time { return s.openedAt }
func (s *Session) Store() *store.Store { return s.store }
func (s *Session) State() State { return State(s.state.Load()) }
func (s *Session) AutosavePath() string { return s.autosave }

// restore performs the Created phase load. A missing snapshot means a
// fresh session; anything else is reported and the store stays empty.
func (s *Session) restore() {
	n, err := snapshot.Load(s.store, s.autosave)
	switch {
	case err == nil:
		s.metrics.Inc(metrics.SnapshotLoadsTotal)
		s.metrics.Add(metrics.SessionKeysRestored, int64(n))
		s.logger.Info("session restored", "session", s.id, "keys", n, "path", s.autosave)
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("no autosave found", "session", s.id, "path", s.autosave)
	case errors.Is(err, snapshot.ErrFormat):
		s.metrics.Inc(metrics.SnapshotLoadFailuresTotal)
		s.metrics.Inc(metrics.SnapshotFormatErrorsTotal)
		s.logger.Error("autosave is malformed, starting empty", "session", s.id, "path", s.autosave, "err", err)
	default:
		s.metrics.Inc(metrics.SnapshotLoadFailuresTotal)
		s.logger.Warn("autosave could not be read, starting empty", "session", s.id, "path", s.autosave, "err", err)
	}
}

// SnapshotPath resolves a user supplied snapshot name inside the session
// directory. Only the base name is kept.
func (s *Session) SnapshotPath(name string) (string, error) {
	base := filepath.Base(filepath.Clean(name))
	if base == "." || base == ".." || base == string(filepath.Separator) || base == "" {
		return "", errors.Wrapf(ErrBadName, "%q", name)
	}
	return filepath.Join(s.dir, base), nil
}

// Save writes the store to the named snapshot in the session directory.
func (s *Session) Save(name string) (int, error) {
	path, err := s.SnapshotPath(name)
	if err != nil {
		return 0, err
	}
	return s.saveTo(path)
}

// Load replaces the store content with the named snapshot.
func (s *Session) Load(name string) (int, error) {
	path, err := s.SnapshotPath(name)
	if err != nil {
		return 0, err
	}
	n, err := snapshot.Load(s.store, path)
	if err != nil {
		s.metrics.Inc(metrics.SnapshotLoadFailuresTotal)
		if errors.Is(err, snapshot.ErrFormat) {
			s.metrics.Inc(metrics.SnapshotFormatErrorsTotal)
		}
		s.logger.Warn("snapshot load failed", "session", s.id, "path", path, "err", err)
		return 0, err
	}
	s.metrics.Inc(metrics.SnapshotLoadsTotal)
	s.logger.Info("snapshot loaded", "session", s.id, "path", path, "keys", n)
	return n, nil
}

func (s *Session) saveTo(path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.metrics.Inc(metrics.SnapshotSaveFailuresTotal)
		return 0, errors.Wrapf(snapshot.ErrIO, "create %s: %v", filepath.Dir(path), err)
	}
	n, err := snapshot.Save(s.store, path)
	if err != nil {
		s.metrics.Inc(metrics.SnapshotSaveFailuresTotal)
		s.logger.Warn("snapshot save failed", "session", s.id, "path", path, "err", err)
		return 0, err
	}
	s.metrics.Inc(metrics.SnapshotSavesTotal)
	s.logger.Debug("snapshot saved", "session", s.id, "path", path, "keys", n)
	return n, nil
}

// Close runs the Closing phase: a final autosave, retried on I/O failure,
// then the store is stopped. A failed autosave is logged and the session
// still closes. Close is idempotent.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closing))

		attempts := 0
		err := retry.Do(ctx, s.policy, func() error {
			attempts++
			if attempts > 1 {
				s.metrics.Inc(metrics.SnapshotSaveRetriesTotal)
			}
			_, err := s.saveTo(s.autosave)
			if errors.Is(err, snapshot.ErrFormat) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			s.logger.Error("autosave failed", "session", s.id, "path", s.autosave, "attempts", attempts, "err", err)
		} else {
			s.metrics.Inc(metrics.SessionAutosaveTotal)
			s.logger.Info("session autosaved", "session", s.id, "path", s.autosave)
		}

		s.store.Close()
		s.state.Store(int32(Closed))
		if s.onClose != nil {
			s.onClose(s)
		}
	})
}
