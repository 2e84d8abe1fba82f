package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Tyrowin/relaychat/internal/logger"
)

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.TCPAddr); err != nil {
		return fmt.Errorf("tcp_addr %q: %w", c.TCPAddr, err)
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			return fmt.Errorf("http_addr %q: %w", c.HTTPAddr, err)
		}
	}
	if c.MaxMessageSize < 1 {
		return errors.New("max_message_size must be >= 1")
	}
	if c.MaxMessageLength < 0 {
		return errors.New("max_message_length must be >= 0")
	}
	if c.IdentifyTimeout <= 0 {
		return errors.New("identify_timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown_timeout must be positive")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("log.format must be %q or %q, got %q", logger.FormatText, logger.FormatJSON, c.Log.Format)
	}
	return nil
}
