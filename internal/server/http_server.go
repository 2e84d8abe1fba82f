// Package server constructs and shuts down the HTTP listener with helpers
// that apply production timeouts.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/relaychat/internal/logger"
)

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active requests.
// Hijacked WebSocket connections are not covered; Server.Shutdown closes those.
func ShutdownServer(server *http.Server, timeout time.Duration, log *slog.Logger) error {
	log = logger.OrDefault(log)
	log.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http server shutdown error", logger.Error(err))
		return err
	}

	log.Info("http server shutdown completed")
	return nil
}
