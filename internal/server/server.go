// Package server tracks listeners and live connections so adapters can be
// shut down together.
package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/broker"
	"github.com/Tyrowin/relaychat/internal/config"
	"github.com/Tyrowin/relaychat/internal/logger"
)

// Server runs the connection adapters in front of a broker. The broker's
// dispatch loop is owned by the caller.
type Server struct {
	broker   *broker.Broker
	cfg      config.Config
	log      *slog.Logger
	origins  originPolicy
	upgrader websocket.Upgrader

	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	conns     map[io.Closer]struct{}
	wg        sync.WaitGroup
}

// New creates a Server submitting events to b.
func New(b *broker.Broker, cfg config.Config, log *slog.Logger) *Server {
	log = logger.OrDefault(log).With(logger.Component("server"))

	s := &Server{
		broker:    b,
		cfg:       cfg,
		log:       log,
		origins:   newOriginPolicy(cfg.AllowedOrigins, log),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[io.Closer]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// acquire registers a live connection. It returns false once shutdown has
// begun, in which case the caller must close c itself.
func (s *Server) acquire(c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) release(c io.Closer) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// ActiveConnections returns the number of live adapter connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes every live connection and waits for the
// adapter goroutines to finish or ctx to expire. Each closed connection
// submits its Disconnect, so the broker should be stopped afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down all client connections")

	s.mu.Lock()
	s.closing = true
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing listener", logger.Error(err))
		}
	}
	conns := make([]io.Closer, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing client connection", logger.Error(err))
		}
	}
	s.log.Info("closed client connections", logger.Count("clients", len(conns)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("server shutdown completed")
		return nil
	case <-ctx.Done():
		s.log.Warn("server shutdown timeout reached, some connections may still be running")
		return ctx.Err()
	}
}
