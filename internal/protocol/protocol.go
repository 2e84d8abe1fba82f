// Package protocol defines the newline-delimited JSON envelopes exchanged
// between chat clients and the server.
//
// A client opens with one Identify line, then sends Send lines. The server
// writes one Message line per delivered payload.
package protocol

import (
	"errors"
	"strings"
)

// ErrMissingDisplayName is returned when an Identify envelope has no name.
var ErrMissingDisplayName = errors.New("protocol: display_name is required")

// Identify is the first envelope a client sends.
type Identify struct {
	DisplayName string `json:"display_name"`
}

// Validate checks that the identity assertion is usable.
func (i Identify) Validate() error {
	if strings.TrimSpace(i.DisplayName) == "" {
		return ErrMissingDisplayName
	}
	return nil
}

// Send carries a chat message from a client. Destinations is accepted for
// wire compatibility; every message goes to the whole room.
type Send struct {
	Destinations []string `json:"destinations"`
	Message      string   `json:"message"`
}

// Message carries a delivered payload to a client.
type Message struct {
	Payload string `json:"payload"`
}
