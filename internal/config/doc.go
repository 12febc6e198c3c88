// Package config loads, normalizes, and validates the TOML configuration for
// the overdub daemon and CLI.
package config
