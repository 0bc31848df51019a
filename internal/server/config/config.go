// Package config handles configuration for the chat server: defaults, an
// optional JSON file overlay and command-line flags, applied in that order.
package config

import "time"

// Config holds runtime settings for the chat server.
type Config struct {
	// Listeners.
	ListenAddr     string
	WebSocketAddr  string
	WebSocketPath  string
	AllowedOrigins []string
	HealthAddrGRPC string
	TLSCertFile    string
	TLSKeyFile     string
	MaxLineBytes   int
	OutboundQueue  int

	// Storage and auth.
	DatabaseDSN        string
	SecretKey          string
	SessionTTL         time.Duration
	PasswordIterations int

	// Admission control.
	MaxLoginFails   int
	FailWindow      time.Duration
	MaxConnsPerAddr int

	// Rooms and delivery.
	DefaultRooms     bool
	HistoryCapacity  int
	AssistantContext int
	AckTimeout       time.Duration
	AckSweepInterval time.Duration

	// Liveness.
	StaleAfter             time.Duration
	HeartbeatSweepInterval time.Duration
	SessionSweepInterval   time.Duration

	// Completion backend: "ollama", "openai" or "none".
	AssistantBackend  string
	AssistantEndpoint string
	AssistantModel    string
	AssistantAPIKey   string
	AssistantTimeout  time.Duration

	LogLevel string
	LogJSON  bool
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey must be overridden outside development.
func (c *Config) LoadDefaults() {
	c.ListenAddr = ":8888"
	c.WebSocketAddr = ""
	c.WebSocketPath = "/ws"
	c.AllowedOrigins = nil
	c.HealthAddrGRPC = ""
	c.MaxLineBytes = 4096
	c.OutboundQueue = 256

	c.DatabaseDSN = "gophchat.db"
	c.SecretKey = "secretKey"
	c.SessionTTL = 24 * time.Hour
	c.PasswordIterations = 210000

	c.MaxLoginFails = 3
	c.FailWindow = 10 * time.Minute
	c.MaxConnsPerAddr = 5

	c.DefaultRooms = true
	c.HistoryCapacity = 50
	c.AssistantContext = 10
	c.AckTimeout = 30 * time.Second
	c.AckSweepInterval = 5 * time.Second

	c.StaleAfter = 30 * time.Second
	c.HeartbeatSweepInterval = 5 * time.Second
	c.SessionSweepInterval = time.Minute

	c.AssistantBackend = "ollama"
	c.AssistantEndpoint = "http://localhost:11434"
	c.AssistantModel = "llama3.2:1b"
	c.AssistantTimeout = 60 * time.Second

	c.LogLevel = "info"
	c.LogJSON = true
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
