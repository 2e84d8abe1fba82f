// Package server defines timing constants and error helpers shared by the
// TCP and WebSocket adapters.
package server

import (
	"errors"
	"net"
	"strings"
	"time"
)

const (
	// writeWait bounds a single write to a peer.
	writeWait = 10 * time.Second

	// pongWait is how long a WebSocket peer may stay silent.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// ErrServerClosed is returned by ServeTCP after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
