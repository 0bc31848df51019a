package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the chat server
//	-w string   WebSocket URL (ws:// or wss://), overrides -a
//	-i int      heartbeat interval in seconds
//	-f string   path of the local state database
//	-ca string  PEM file with the CA that signed the server certificate
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-i", "-f", "-ca"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerAddr, "a", cfg.ServerAddr, "address and port to access server")
	fs.StringVar(&cfg.WebSocketURL, "w", cfg.WebSocketURL, "websocket URL of the server")
	heartbeat := fs.Int("i", int(cfg.HeartbeatInterval.Seconds()), "heartbeat interval (in seconds)")
	fs.StringVar(&cfg.StatePath, "f", cfg.StatePath, "local state database")
	fs.StringVar(&cfg.TLSCAFile, "ca", cfg.TLSCAFile, "CA certificate for TLS")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.HeartbeatInterval = time.Duration(*heartbeat) * time.Second
}
