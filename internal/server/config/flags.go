package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/flagx"
)

// parseFlags overlays the most commonly tuned settings from the command line.
//
//	-a string   TCP listen address (e.g. ":8888")
//	-w string   WebSocket listen address, empty disables it
//	-g string   gRPC health listen address, empty disables it
//	-d string   database DSN (SQLite path or postgres:// URL)
//	-s string   token signing secret
//	-t int      session token TTL, minutes
//	-l string   log level
//	-b string   completion backend (ollama, openai, none)
//	-m string   completion model
//	-e string   completion endpoint
//	-cert/-key  TLS certificate and key files
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-g", "-d", "-s", "-t", "-l", "-b", "-m", "-e", "-cert", "-key"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ListenAddr, "a", config.ListenAddr, "TCP address and port to listen on")
	fs.StringVar(&config.WebSocketAddr, "w", config.WebSocketAddr, "WebSocket address and port to listen on")
	fs.StringVar(&config.HealthAddrGRPC, "g", config.HealthAddrGRPC, "gRPC health address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session token TTL (in minutes)")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.AssistantBackend, "b", config.AssistantBackend, "completion backend")
	fs.StringVar(&config.AssistantModel, "m", config.AssistantModel, "completion model")
	fs.StringVar(&config.AssistantEndpoint, "e", config.AssistantEndpoint, "completion endpoint")
	fs.StringVar(&config.TLSCertFile, "cert", config.TLSCertFile, "TLS certificate file")
	fs.StringVar(&config.TLSKeyFile, "key", config.TLSKeyFile, "TLS key file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only a flag given explicitly may replace a sub-minute TTL from JSON
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
		}
	})
}
