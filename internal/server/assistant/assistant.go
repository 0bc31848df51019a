// Package assistant talks to the text-completion service behind assisted
// rooms.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrDisabled is returned by the "none" backend.
var ErrDisabled = errors.New("assistant disabled")

// Completer turns a prompt into a reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend  string // "ollama", "openai" or "none"
	Endpoint string
	Model    string
	APIKey   string
}

// New builds the Completer named by cfg.Backend.
func New(cfg Config) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "ollama", "":
		return NewOllama(cfg.Endpoint, cfg.Model)
	case "openai":
		return NewOpenAI(cfg.Endpoint, cfg.Model, cfg.APIKey)
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown assistant backend %q", cfg.Backend)
	}
}

// Disabled fails every request, so assisted rooms answer with the apology.
type Disabled struct{}

func (Disabled) Complete(context.Context, string) (string, error) {
	return "", ErrDisabled
}

// Func adapts a plain function to Completer.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
