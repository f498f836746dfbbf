package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama is a Backend on a local Ollama server's native chat endpoint. It asks
// for JSON-formatted output and a zero temperature.
type Ollama struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewOllama creates an Ollama backend. timeout bounds each HTTP call; the
// caller's context deadline still applies.
func NewOllama(host, model string, timeout time.Duration) *Ollama {
	if host == "" {
		host = defaultOllamaURL
	}
	host = strings.TrimRight(host, "/")
	host = strings.TrimSuffix(host, "/api/chat")

	return &Ollama{
		model:   model,
		baseURL: host,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Name() string { return ProviderOllama }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error"`
}

// Complete posts the conversation to /api/chat and returns the reply content.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	opts := map[string]any{"temperature": 0}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}

	payload, err := json.Marshal(ollamaRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
		Options:  opts,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	var result ollamaResponse
	decodeErr := json.Unmarshal(body, &result)

	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: ollama status %d", ErrUnreachable, httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := result.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return "", fmt.Errorf("ollama status %d: %s", httpResp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("parsing response: %w", decodeErr)
	}

	return result.Message.Content, nil
}
