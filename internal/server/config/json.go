package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
	"github.com/dmitrijs2005/gophchat/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Pointer fields distinguish
// "absent" from a zero value so a file only overrides what it names.
type JsonConfig struct {
	ListenAddr     *string  `json:"listen_addr"`
	WebSocketAddr  *string  `json:"websocket_addr"`
	WebSocketPath  *string  `json:"websocket_path"`
	AllowedOrigins []string `json:"allowed_origins"`
	HealthAddrGRPC *string  `json:"health_addr_grpc"`
	TLSCertFile    *string  `json:"tls_cert_file"`
	TLSKeyFile     *string  `json:"tls_key_file"`
	MaxLineBytes   *int     `json:"max_line_bytes"`
	OutboundQueue  *int     `json:"outbound_queue"`

	DatabaseDSN        *string         `json:"database_dsn"`
	SecretKey          *string         `json:"secret_key"`
	SessionTTL         *timex.Duration `json:"session_ttl"`
	PasswordIterations *int            `json:"password_iterations"`

	MaxLoginFails   *int            `json:"max_login_fails"`
	FailWindow      *timex.Duration `json:"fail_window"`
	MaxConnsPerAddr *int            `json:"max_conns_per_addr"`

	DefaultRooms     *bool           `json:"default_rooms"`
	HistoryCapacity  *int            `json:"history_capacity"`
	AssistantContext *int            `json:"assistant_context"`
	AckTimeout       *timex.Duration `json:"ack_timeout"`
	AckSweepInterval *timex.Duration `json:"ack_sweep_interval"`

	StaleAfter             *timex.Duration `json:"stale_after"`
	HeartbeatSweepInterval *timex.Duration `json:"heartbeat_sweep_interval"`
	SessionSweepInterval   *timex.Duration `json:"session_sweep_interval"`

	AssistantBackend  *string         `json:"assistant_backend"`
	AssistantEndpoint *string         `json:"assistant_endpoint"`
	AssistantModel    *string         `json:"assistant_model"`
	AssistantAPIKey   *string         `json:"assistant_api_key"`
	AssistantTimeout  *timex.Duration `json:"assistant_timeout"`

	LogLevel *string `json:"log_level"`
	LogJSON  *bool   `json:"log_json"`
}

// parseJson overlays values from the file named by -c/-config. A missing or
// invalid file is fatal at startup, so it panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.ListenAddr, c.ListenAddr)
	setString(&config.WebSocketAddr, c.WebSocketAddr)
	setString(&config.WebSocketPath, c.WebSocketPath)
	if c.AllowedOrigins != nil {
		config.AllowedOrigins = c.AllowedOrigins
	}
	setString(&config.HealthAddrGRPC, c.HealthAddrGRPC)
	setString(&config.TLSCertFile, c.TLSCertFile)
	setString(&config.TLSKeyFile, c.TLSKeyFile)
	setInt(&config.MaxLineBytes, c.MaxLineBytes)
	setInt(&config.OutboundQueue, c.OutboundQueue)

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.SessionTTL, c.SessionTTL)
	setInt(&config.PasswordIterations, c.PasswordIterations)

	setInt(&config.MaxLoginFails, c.MaxLoginFails)
	setDuration(&config.FailWindow, c.FailWindow)
	setInt(&config.MaxConnsPerAddr, c.MaxConnsPerAddr)

	if c.DefaultRooms != nil {
		config.DefaultRooms = *c.DefaultRooms
	}
	setInt(&config.HistoryCapacity, c.HistoryCapacity)
	setInt(&config.AssistantContext, c.AssistantContext)
	setDuration(&config.AckTimeout, c.AckTimeout)
	setDuration(&config.AckSweepInterval, c.AckSweepInterval)

	setDuration(&config.StaleAfter, c.StaleAfter)
	setDuration(&config.HeartbeatSweepInterval, c.HeartbeatSweepInterval)
	setDuration(&config.SessionSweepInterval, c.SessionSweepInterval)

	setString(&config.AssistantBackend, c.AssistantBackend)
	setString(&config.AssistantEndpoint, c.AssistantEndpoint)
	setString(&config.AssistantModel, c.AssistantModel)
	setString(&config.AssistantAPIKey, c.AssistantAPIKey)
	setDuration(&config.AssistantTimeout, c.AssistantTimeout)

	setString(&config.LogLevel, c.LogLevel)
	if c.LogJSON != nil {
		config.LogJSON = *c.LogJSON
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
