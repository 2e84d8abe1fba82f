package config

import "time"

// Config holds the chat server settings.
type Config struct {
	// TCPAddr is where the line protocol listener binds.
	TCPAddr string `yaml:"tcp_addr" env:"CHAT_TCP_ADDR"`

	// HTTPAddr serves health, the WebSocket endpoint and the test page.
	// Empty disables the HTTP listener.
	HTTPAddr string `yaml:"http_addr" env:"CHAT_HTTP_ADDR"`

	AllowedOrigins []string `yaml:"allowed_origins" env:"CHAT_ALLOWED_ORIGINS" envSeparator:","`

	// MaxMessageSize limits one wire envelope in bytes.
	MaxMessageSize int64 `yaml:"max_message_size" env:"CHAT_MAX_MESSAGE_SIZE"`

	// MaxMessageLength is the length filter limit in bytes. Zero disables it.
	MaxMessageLength int `yaml:"max_message_length" env:"CHAT_MAX_MESSAGE_LENGTH"`

	IdentifyTimeout time.Duration `yaml:"identify_timeout" env:"CHAT_IDENTIFY_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"CHAT_SHUTDOWN_TIMEOUT"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"CHAT_LOG_LEVEL"`
	Format string `yaml:"format" env:"CHAT_LOG_FORMAT"`
}
