package config

import "time"

// Config holds runtime settings for the chat client.
type Config struct {
	ServerAddr string
	// WebSocketURL, when set, is dialled instead of ServerAddr.
	WebSocketURL string
	TLSCAFile    string

	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReconnectGrowth    float64
	// MaxReconnectAttempts of 0 retries until stopped.
	MaxReconnectAttempts int

	StatePath string
	LogLevel  string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:8888"
	c.HeartbeatInterval = 5 * time.Second
	c.LivenessTimeout = 15 * time.Second
	c.ReconnectBaseDelay = 500 * time.Millisecond
	c.ReconnectMaxDelay = 30 * time.Second
	c.ReconnectGrowth = 2
	c.StatePath = "gophchat_client.db"
	c.LogLevel = "warn"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
