package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic is a Backend on the Anthropic Messages API.
type Anthropic struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropic creates an Anthropic backend. An empty apiKey falls back to the
// SDK's ANTHROPIC_API_KEY lookup.
func NewAnthropic(apiKey, model string, extra ...option.RequestOption) *Anthropic {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	opts = append(opts, extra...)
	client := anthropic.NewClient(opts...)
	return &Anthropic{
		api:   &client,
		model: anthropic.Model(model),
	}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

// Complete sends the conversation and returns the first text block.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.api.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.StatusCode != 429 {
			return "", fmt.Errorf("anthropic API call (status %d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("%w: anthropic API call: %v", ErrUnreachable, err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
