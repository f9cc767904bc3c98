// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every field has a default, so a missing file is not an error and
// a partial file only overrides what it names.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/parley.yaml
//  3. ~/.config/parley/parley.yaml
//
// Files ending in .toml are decoded with BurntSushi/toml; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string. Without a file, OPENAI_API_KEY,
// ANTHROPIC_API_KEY and GEMINI_API_KEY are read directly.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  shutdown_timeout: "10s"
//	engine:
//	  turn_timeout: "2m"
//	providers:
//	  echo:
//	    delay: "40ms"
//
// A turn_timeout of "0s" disables the per-turn deadline.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8420"
//
// Engine settings:
//
//	engine:
//	  default_model: "chatgpt"   # chatgpt, claude, gemini or echo
//	  event_buffer: 64           # per-subscriber update buffer
//
// Turn ledger (audit log of finished turns, SQLite):
//
//	ledger:
//	  enabled: true
//	  path: "./parley-ledger.db"   # defaults under $XDG_DATA_HOME/parley
//
// Logging:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "text"   # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load validates after parsing and reports the first problem. An unknown
// default model is a configuration fault wrapping catalog.ErrUnknownModel.
package config
