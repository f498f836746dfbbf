package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/joescharf/prreview/internal/models"
)

const (
	defaultAPIURL = "https://api.github.com/"
	filesPerPage  = 100
)

var (
	// ErrNotFound means the repository or pull request does not exist or is not
	// visible with the supplied credential.
	ErrNotFound = errors.New("pull request not found")
	// ErrUnauthorized means the credential was rejected.
	ErrUnauthorized = errors.New("github credential rejected")
	// ErrUpstreamUnavailable covers timeouts, network failures, rate limits and 5xx responses.
	ErrUpstreamUnavailable = errors.New("github unavailable")
)

// Options configures a Client.
type Options struct {
	APIURL     string        // defaults to https://api.github.com/
	Timeout    time.Duration // per fetch, 0 disables
	HTTPClient *http.Client
}

// Client is the Diff Fetcher. It is safe for concurrent use; the credential is
// supplied per call and never stored.
type Client struct {
	gh      *gh.Client
	timeout time.Duration
}

// NewClient creates a GitHub client.
func NewClient(opts Options) (*Client, error) {
	c := gh.NewClient(opts.HTTPClient)

	apiURL := opts.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api url: %w", err)
	}
	c.BaseURL = base

	return &Client{gh: c, timeout: opts.Timeout}, nil
}

// FetchChangedFiles returns every changed file of the pull request that has a
// textual patch, in the order GitHub lists them. Content is the per-file patch.
func (c *Client) FetchChangedFiles(ctx context.Context, repoURL string, prNumber int, token string) ([]models.ChangedFile, error) {
	owner, repo, err := ParseRepo(repoURL)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	client := c.gh
	if token != "" {
		client = client.WithAuthToken(token)
	}

	var files []models.ChangedFile
	opts := &gh.ListOptions{PerPage: filesPerPage}
	for {
		page, resp, err := client.PullRequests.ListFiles(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, classify(ctx, owner, repo, prNumber, err)
		}
		for _, f := range page {
			patch := f.GetPatch()
			if patch == "" {
				continue
			}
			files = append(files, models.ChangedFile{
				Name:    f.GetFilename(),
				Status:  f.GetStatus(),
				Content: patch,
				IsPatch: true,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// classify maps a go-github error onto the fetcher's error kinds. Upstream
// response bodies are not included in the message.
func classify(ctx context.Context, owner, repo string, prNumber int, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	var respErr *gh.ErrorResponse

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("%w: rate limited", ErrUpstreamUnavailable)
	case errors.As(err, &respErr) && respErr.Response != nil:
		code := respErr.Response.StatusCode
		switch {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %s/%s#%d", ErrNotFound, owner, repo, prNumber)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%w (status %d)", ErrUnauthorized, code)
		default:
			return fmt.Errorf("%w (status %d)", ErrUpstreamUnavailable, code)
		}
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
}
