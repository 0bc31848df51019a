package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8888", c.ListenAddr)
	assert.Equal(t, "gophchat.db", c.DatabaseDSN)
	assert.Equal(t, 24*time.Hour, c.SessionTTL)
	assert.Equal(t, 3, c.MaxLoginFails)
	assert.Equal(t, 10*time.Minute, c.FailWindow)
	assert.Equal(t, 50, c.HistoryCapacity)
	assert.True(t, c.DefaultRooms)
	assert.Equal(t, "ollama", c.AssistantBackend)
	assert.Equal(t, "llama3.2:1b", c.AssistantModel)
	assert.Empty(t, c.WebSocketAddr)
	assert.Empty(t, c.HealthAddrGRPC)
}

func TestLoadConfig_UsesDefaultsWithoutArgs(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	c := LoadConfig()
	require.NotNil(t, c)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, *c)
}

func TestLoadConfig_FlagsOverrideJSON(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTempJSON(t, "", "", map[string]any{
		"listen_addr": ":7000",
		"secret_key":  "from-json",
		"ack_timeout": "5s",
	})
	os.Args = []string{"testbin", "-c", path, "-a", ":9000"}

	c := LoadConfig()
	assert.Equal(t, ":9000", c.ListenAddr)
	assert.Equal(t, "from-json", c.SecretKey)
	assert.Equal(t, 5*time.Second, c.AckTimeout)
}
