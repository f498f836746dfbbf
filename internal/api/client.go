package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/prreview/internal/pipeline"
)

// Client submits reviews to a running server.
type Client struct {
	BaseURL    string
	Token      string // bearer JWT, empty when the server runs without auth
	HTTPClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts a review request and returns the accepted task.
func (c *Client) Submit(ctx context.Context, req pipeline.SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(analyzeRequest{
		RepoURL:     req.RepoURL,
		PRNumber:    req.PRNumber,
		GitHubToken: req.GitHubToken,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/github/analyze-pr", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("contact server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
