// Package server implements the connection adapters that sit between client
// sockets and the broker: a TCP listener speaking newline-delimited JSON, and
// an HTTP server exposing a health check, a WebSocket endpoint and a test page.
//
// Adapters never touch broker state. Each connection submits Connect, Sending
// and Disconnect events and drains its own delivery channel onto the wire.
package server
