// Package config loads server configuration from defaults, an optional YAML
// file, an optional .env file and CHAT_* environment variables, in that order
// of increasing precedence.
package config
