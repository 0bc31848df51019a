package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
	"github.com/dmitrijs2005/gophchat/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Zero values
// leave the corresponding Config field untouched.
type JsonConfig struct {
	ServerAddr           string         `json:"server_addr"`
	WebSocketURL         string         `json:"websocket_url"`
	TLSCAFile            string         `json:"tls_ca_file"`
	HeartbeatInterval    timex.Duration `json:"heartbeat_interval"`
	LivenessTimeout      timex.Duration `json:"liveness_timeout"`
	ReconnectBaseDelay   timex.Duration `json:"reconnect_base_delay"`
	ReconnectMaxDelay    timex.Duration `json:"reconnect_max_delay"`
	ReconnectGrowth      float64        `json:"reconnect_growth"`
	MaxReconnectAttempts int            `json:"max_reconnect_attempts"`
	StatePath            string         `json:"state_path"`
	LogLevel             string         `json:"log_level"`
}

// parseJson overlays Config with values loaded from the file named by -c or
// -config. Read or unmarshal errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerAddr, jc.ServerAddr)
	setString(&cfg.WebSocketURL, jc.WebSocketURL)
	setString(&cfg.TLSCAFile, jc.TLSCAFile)
	setDuration(&cfg.HeartbeatInterval, jc.HeartbeatInterval)
	setDuration(&cfg.LivenessTimeout, jc.LivenessTimeout)
	setDuration(&cfg.ReconnectBaseDelay, jc.ReconnectBaseDelay)
	setDuration(&cfg.ReconnectMaxDelay, jc.ReconnectMaxDelay)
	if jc.ReconnectGrowth != 0 {
		cfg.ReconnectGrowth = jc.ReconnectGrowth
	}
	if jc.MaxReconnectAttempts != 0 {
		cfg.MaxReconnectAttempts = jc.MaxReconnectAttempts
	}
	setString(&cfg.StatePath, jc.StatePath)
	setString(&cfg.LogLevel, jc.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
