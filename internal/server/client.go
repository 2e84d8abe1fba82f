// Package server manages individual WebSocket clients, handling identification,
// read/write pumps and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relaychat/internal/broker"
	"github.com/Tyrowin/relaychat/internal/logger"
	"github.com/Tyrowin/relaychat/internal/protocol"
)

// wsClient adapts one WebSocket connection to the broker. Every text frame
// from the peer carries one envelope; frames to the peer carry one or more
// newline-terminated Message envelopes.
type wsClient struct {
	conn           *websocket.Conn
	server         *Server
	outbox         broker.DeliveryChannel
	user           broker.User
	log            *slog.Logger
	maxMessageSize int64
}

func newWSClient(conn *websocket.Conn, s *Server, log *slog.Logger) *wsClient {
	if conn != nil {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	return &wsClient{
		conn:           conn,
		server:         s,
		outbox:         broker.NewDeliveryChannel(),
		log:            log,
		maxMessageSize: s.cfg.MaxMessageSize,
	}
}

// serve runs the connection to completion. The caller has acquired conn.
func (c *wsClient) serve() {
	defer c.server.release(c.conn)

	if !c.identify() {
		c.closeConnection()
		return
	}
	c.log = c.log.With(logger.User(string(c.user.ID)))

	if err := c.server.broker.Submit(broker.Connect{User: c.user, Channel: c.outbox}); err != nil {
		c.log.Warn("broker rejected connect", logger.Error(err))
		c.closeConnection()
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()

	c.readPump()
	<-writeDone
}

// identify reads the Identify envelope from the first frame.
func (c *wsClient) identify() bool {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.IdentifyTimeout)); err != nil {
		c.log.Debug("error setting identify deadline", logger.Error(err))
	}

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		c.log.Debug("dropping websocket without identify", logger.Error(err))
		return false
	}

	var id protocol.Identify
	if err := protocol.Unmarshal(raw, &id); err != nil {
		c.log.Debug("dropping websocket with malformed identify", logger.Error(err))
		return false
	}
	if err := id.Validate(); err != nil {
		c.log.Debug("dropping websocket with invalid identify", logger.Error(err))
		return false
	}

	c.user = broker.NewUser(id.DisplayName)
	return true
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *wsClient) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("error setting initial read deadline", logger.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Debug("error setting read deadline in pong handler", logger.Error(err))
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *wsClient) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("message exceeded maximum size", slog.Int64("max_bytes", c.maxMessageSize))
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Debug("client disconnected", logger.Error(err))
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Debug("client connection closed", logger.Error(err))
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("unexpected websocket error", logger.Error(err))
		return true
	}

	c.log.Warn("websocket read error", logger.Error(err))
	return true
}

// processMessage decodes a Send envelope and submits it to the broker. It
// returns false if the message was skipped.
func (c *wsClient) processMessage(rawMessage []byte) bool {
	var msg protocol.Send
	if err := protocol.Unmarshal(rawMessage, &msg); err != nil {
		c.log.Debug("skipping malformed envelope", logger.Error(err))
		return false
	}

	if err := c.server.broker.Submit(broker.Sending{From: c.user.ID, Text: msg.Message}); err != nil {
		c.log.Debug("broker stopped, dropping message", logger.Error(err))
		return false
	}
	return true
}

func (c *wsClient) readPump() {
	defer func() {
		if err := c.server.broker.Submit(broker.Disconnect{User: c.user}); err != nil {
			c.log.Debug("broker stopped before disconnect", logger.Error(err))
		}
		c.outbox.Close()
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			break
		}

		c.processMessage(rawMessage)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Pushes from the broker now fail and are logged there.
		c.outbox.Close()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *wsClient) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case <-c.outbox.Ready():
		return c.flush()
	case <-c.outbox.Done():
		if !c.flush() {
			return false
		}
		return c.writeCloseMessage()
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *wsClient) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error closing websocket connection", logger.Error(err))
		}
	}
}

// flush writes everything queued on the delivery channel in a single frame.
// A wake-up with nothing queued is not an error.
func (c *wsClient) flush() bool {
	payload, ok := c.outbox.TryPop()
	if !ok {
		return true
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline", logger.Error(err))
		return false
	}

	return c.writeTextMessage(payload)
}

// writeCloseMessage sends a close message to the client
func (c *wsClient) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", logger.Error(err))
		}
	}
	return false
}

// writeTextMessage writes a payload and any queued payloads
func (c *wsClient) writeTextMessage(payload string) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug("error creating writer", logger.Error(err))
		return false
	}

	if !c.writeMessageContent(w, payload) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

// writeMessageContent writes one Message envelope
func (c *wsClient) writeMessageContent(w io.WriteCloser, payload string) bool {
	data, err := protocol.Marshal(protocol.Message{Payload: payload})
	if err != nil {
		c.log.Warn("error encoding message", logger.Error(err))
		return false
	}
	if _, err := w.Write(data); err != nil {
		c.log.Debug("error writing message", logger.Error(err))
		return false
	}
	return true
}

// writeQueuedMessages writes any additional queued messages
func (c *wsClient) writeQueuedMessages(w io.WriteCloser) bool {
	n := c.outbox.Len()
	for i := 0; i < n; i++ {
		payload, ok := c.outbox.TryPop()
		if !ok {
			break
		}
		if !c.writeMessageContent(w, payload) {
			return false
		}
	}
	return true
}

// closeWriter closes the message writer
func (c *wsClient) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		c.log.Debug("error closing writer", logger.Error(err))
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *wsClient) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline for ping", logger.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping message", logger.Error(err))
		return false
	}
	return true
}
