// Package server implements the TCP connection adapter: one ingress goroutine
// decoding Send envelopes and one egress goroutine writing Message envelopes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/relaychat/internal/broker"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/protocol"
)

// ListenAndServeTCP listens on addr and serves the line protocol until
// Shutdown.
func (s *Server) ListenAndServeTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return s.ServeTCP(ln)
}

// ServeTCP accepts connections on ln until Shutdown, which makes it return
// ErrServerClosed. ServeTCP takes ownership of ln.
func (s *Server) ServeTCP(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.log.Info("tcp listener started", slog.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			s.log.Warn("failed to accept connection", logger.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.acquire(conn) {
			_ = conn.Close()
			continue
		}
		go s.serveTCPConn(conn)
	}
}

// serveTCPConn owns one socket from identification until disconnect.
func (s *Server) serveTCPConn(conn net.Conn) {
	defer s.release(conn)
	defer s.closeTCPConn(conn)

	log := s.log.With(
		logger.ConnID(uuid.NewString()),
		logger.Remote(conn.RemoteAddr().String()),
	)

	dec := protocol.NewDecoder(conn, int(s.cfg.MaxMessageSize))

	user, ok := s.identifyTCP(conn, dec, log)
	if !ok {
		return
	}
	log = log.With(logger.User(string(user.ID)))

	outbox := broker.NewDeliveryChannel()
	if err := s.broker.Submit(broker.Connect{User: user, Channel: outbox}); err != nil {
		log.Warn("broker rejected connect", logger.Error(err))
		return
	}

	egressDone := make(chan struct{})
	go func() {
		defer close(egressDone)
		s.tcpEgress(conn, outbox, log)
	}()

	s.tcpIngress(dec, user, log)

	if err := s.broker.Submit(broker.Disconnect{User: user}); err != nil {
		log.Debug("broker stopped before disconnect", logger.Error(err))
	}
	// The broker closes the channel on Disconnect too; closing here covers a
	// stopped broker and wakes the egress goroutine immediately.
	outbox.Close()
	<-egressDone
}

// identifyTCP reads the Identify envelope. Any failure drops the connection
// without involving the broker.
func (s *Server) identifyTCP(conn net.Conn, dec *protocol.Decoder, log *slog.Logger) (broker.User, bool) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdentifyTimeout)); err != nil {
		log.Debug("error setting identify deadline", logger.Error(err))
	}

	var id protocol.Identify
	if err := dec.Decode(&id); err != nil {
		log.Debug("dropping connection without valid identify", logger.Error(err))
		return broker.User{}, false
	}
	if err := id.Validate(); err != nil {
		log.Debug("dropping connection without valid identify", logger.Error(err))
		return broker.User{}, false
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Debug("error clearing read deadline", logger.Error(err))
	}
	return broker.NewUser(id.DisplayName), true
}

// tcpIngress turns Send envelopes into Sending events until the socket fails.
func (s *Server) tcpIngress(dec *protocol.Decoder, user broker.User, log *slog.Logger) {
	for {
		var msg protocol.Send
		err := dec.Decode(&msg)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrMalformed):
			log.Debug("skipping malformed envelope", logger.Error(err))
			continue
		case errors.Is(err, io.EOF) || isExpectedCloseError(err):
			log.Debug("client connection closed")
			return
		case errors.Is(err, protocol.ErrLineTooLong):
			log.Warn("message exceeded maximum size", slog.Int64("max_bytes", s.cfg.MaxMessageSize))
			return
		default:
			log.Warn("read error", logger.Error(err))
			return
		}

		if err := s.broker.Submit(broker.Sending{From: user.ID, Text: msg.Message}); err != nil {
			log.Debug("broker stopped, dropping message", logger.Error(err))
			return
		}
	}
}

// tcpEgress writes each delivered payload as a Message line. A write failure
// closes the delivery channel and the socket so the ingress side emits the
// Disconnect.
func (s *Server) tcpEgress(conn net.Conn, outbox broker.DeliveryChannel, log *slog.Logger) {
	enc := protocol.NewEncoder(conn)

	for {
		payload, err := outbox.Pop(context.Background())
		if err != nil {
			return
		}

		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Debug("error setting write deadline", logger.Error(err))
		}
		if err := enc.Encode(protocol.Message{Payload: payload}); err != nil {
			if !isExpectedCloseError(err) {
				log.Warn("error writing message", logger.Error(err))
			}
			outbox.Close()
			s.closeTCPConn(conn)
			return
		}
	}
}

func (s *Server) closeTCPConn(conn net.Conn) {
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn("error closing connection", logger.Error(err))
	}
}
