// Package server exposes sessions over a plain TCP line protocol.
package server

import (
	"context"
	"net"
	"sync"

	"minikv/internal/command"
	"minikv/internal/logs"
	"minikv/internal/session"

	"github.com/pkg/errors"
)

type Config struct {
	ListenAddr string
	Logger     *logs.Logger
}

type Server struct {
	cfg        Config
	sessions   *session.Manager
	dispatcher *command.Dispatcher

	mu        sync.RWMutex
	listener  net.Listener
	readyCh   chan struct{}
	readyOnce sync.Once
	closed    bool
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup

	logger *logs.Logger
}

func NewServer(cfg Config, sessions *session.Manager, dispatcher *command.Dispatcher) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logs.Discard()
	}

	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		dispatcher: dispatcher,
		readyCh:    make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
		logger:     logger,
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Before returning it closes every live connection and waits for their
// sessions to finish closing, autosave included.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })

	s.logger.Info("listening", "addr", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	defer s.drain()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("temporary accept error", "err", err)
				continue
			}
			s.logger.Error("accept error", "err", err)
			return err
		}

		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections. Serve then drains the live ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) drain() {
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("server stopped")
}
