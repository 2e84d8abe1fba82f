package logger

import "log/slog"

// Helpers return an empty Attr for zero inputs so callers can pass them
// unconditionally; slog drops empty attributes.

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component tags a record with the subsystem that produced it.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// User tags a record with a user identity.
func User(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user", id)
}

// ConnID tags a record with a connection correlation ID.
func ConnID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("conn_id", id)
}

// Remote tags a record with the peer address of a connection.
func Remote(addr string) slog.Attr {
	if addr == "" {
		return slog.Attr{}
	}
	return slog.String("remote", addr)
}

// Count records a number of items, such as recipients or clients.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}
