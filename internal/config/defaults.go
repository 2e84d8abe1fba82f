package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTCPAddr          = "127.0.0.1:8080"
	DefaultHTTPAddr         = "127.0.0.1:8081"
	DefaultOrigin           = "http://localhost:8081"
	DefaultMaxMessageSize   = 4096
	DefaultMaxMessageLength = 256
	DefaultIdentifyTimeout  = 10 * time.Second
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		TCPAddr:          DefaultTCPAddr,
		HTTPAddr:         DefaultHTTPAddr,
		AllowedOrigins:   []string{DefaultOrigin},
		MaxMessageSize:   DefaultMaxMessageSize,
		MaxMessageLength: DefaultMaxMessageLength,
		IdentifyTimeout:  DefaultIdentifyTimeout,
		ShutdownTimeout:  DefaultShutdownTimeout,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

func (c *Config) applyDefaults() {
	if c.TCPAddr == "" {
		c.TCPAddr = DefaultTCPAddr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = DefaultIdentifyTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
