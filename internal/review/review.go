// Package review implements the model-backed review agent: it prompts a
// generative backend for one file, validates the reply against a strict JSON
// shape and retries with a corrective instruction when the reply is invalid.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/prreview/internal/llm"
	"github.com/joescharf/prreview/internal/models"
)

var (
	// ErrModelUnreachable means the backend call itself failed or timed out.
	ErrModelUnreachable = errors.New("model unreachable")
	// ErrModelOutputInvalid means every attempt returned output that failed validation.
	ErrModelOutputInvalid = errors.New("model output invalid")
	// ErrModelRejected means the backend answered but refused the request, for
	// example an unknown model or a rejected API key.
	ErrModelRejected = errors.New("model request rejected")
)

// Options configures an Agent.
type Options struct {
	RetryBound      int           // additional attempts after the first invalid reply
	Timeout         time.Duration // per model call, 0 disables
	RedactSecrets   bool
	MaxContentBytes int
	MaxTokens       int
}

// DefaultOptions returns the default agent options.
func DefaultOptions() Options {
	return Options{
		RetryBound:      2,
		Timeout:         120 * time.Second,
		RedactSecrets:   true,
		MaxContentBytes: 60000,
		MaxTokens:       4096,
	}
}

// Agent reviews one file at a time. It holds no per-call state and is safe for
// concurrent use.
type Agent struct {
	backend llm.Backend
	opts    Options
}

// NewAgent creates a review agent on the given backend.
func NewAgent(backend llm.Backend, opts Options) *Agent {
	if opts.RetryBound < 0 {
		opts.RetryBound = 0
	}
	return &Agent{backend: backend, opts: opts}
}

// Review asks the model for issues in file. It returns ErrModelUnreachable when
// the backend cannot be reached or times out, ErrModelRejected when it refuses
// the request and ErrModelOutputInvalid once RetryBound retries have been spent
// on invalid replies. Backend errors are never retried.
func (a *Agent) Review(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
	system, user := BuildPrompt(file, a.opts)
	lineCount := file.LineCount()

	messages := []llm.Message{{Role: llm.RoleUser, Content: user}}
	attempts := a.opts.RetryBound + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := a.complete(ctx, system, messages)
		if err != nil {
			return nil, backendError(err)
		}

		issues, err := ParseIssues(raw, lineCount)
		if err == nil {
			return issues, nil
		}
		lastErr = err

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: correctivePrompt(err)},
		)
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrModelOutputInvalid, attempts, lastErr)
}

func backendError(err error) error {
	if errors.Is(err, llm.ErrUnreachable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrModelUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrModelRejected, err)
}

func (a *Agent) complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}
	return a.backend.Complete(ctx, llm.Request{
		System:    system,
		Messages:  append([]llm.Message(nil), messages...),
		MaxTokens: a.opts.MaxTokens,
	})
}
