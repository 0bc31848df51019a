// Package config loads runtime configuration for the chat client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Intervals are timex.Duration values, so either "5s" or integer nanoseconds:
//
//	{
//	  "server_addr": "127.0.0.1:8888",
//	  "heartbeat_interval": "5s",
//	  "liveness_timeout": "15s",
//	  "reconnect_base_delay": "500ms",
//	  "reconnect_max_delay": "30s",
//	  "reconnect_growth": 2,
//	  "state_path": "gophchat_client.db"
//	}
package config
