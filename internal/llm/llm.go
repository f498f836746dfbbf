// Package llm provides the generative-text backends the review agent talks to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnreachable is returned when the backend cannot be reached or answers
// with a transport-level failure.
var ErrUnreachable = errors.New("model backend unreachable")

// Role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single synchronous completion request.
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Backend returns raw model text for a request.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Provider string // ollama or anthropic
	Model    string
	Host     string // Ollama base URL
	APIKey   string // Anthropic API key
	Timeout  time.Duration
}

const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"

	defaultMaxTokens = 4096
)

// New creates the backend named by cfg.Provider.
func New(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		return NewOllama(cfg.Host, cfg.Model, cfg.Timeout), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
