// Package server wires HTTP handlers into a chi router.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns the HTTP handler serving the health check, the WebSocket
// endpoint and the test page.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", HealthHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.Get("/test", s.TestPageHandler)
	return r
}
