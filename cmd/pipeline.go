package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/analyzer"
	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/review"
	"github.com/joescharf/prreview/internal/store"
	"github.com/joescharf/prreview/internal/worker"
)

// pipelineConfig snapshots the orchestrator settings. Nothing below cmd reads viper.
func pipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Concurrency = viper.GetInt("review.concurrency")
	cfg.FailFast = viper.GetBool("review.fail_fast")
	cfg.FetchAttempts = viper.GetInt("github.fetch_attempts")
	cfg.DefaultToken = viper.GetString("github.token")
	return cfg
}

func reviewOptions() review.Options {
	opts := review.DefaultOptions()
	opts.RetryBound = viper.GetInt("review.retry_bound")
	opts.Timeout = viper.GetDuration("llm.timeout")
	opts.RedactSecrets = viper.GetBool("review.redact_secrets")
	opts.MaxContentBytes = viper.GetInt("review.max_content_bytes")
	opts.MaxTokens = viper.GetInt("review.max_tokens")
	return opts
}

// newOrchestrator wires the fetcher, analyzer and review agent around s.
func newOrchestrator(s store.Store) (*pipeline.Orchestrator, error) {
	fetcher, err := github.NewClient(github.Options{
		APIURL:  viper.GetString("github.api_url"),
		Timeout: viper.GetDuration("github.timeout"),
	})
	if err != nil {
		return nil, err
	}

	backend, err := newLLMBackend()
	if err != nil {
		return nil, err
	}

	static := analyzer.New(analyzer.Options{MaxLineLength: viper.GetInt("review.max_line_length")})
	agent := review.NewAgent(backend, reviewOptions())

	logger.Debug("pipeline.configured",
		"llm_provider", backend.Name(),
		"llm_model", viper.GetString("llm.model"),
		"concurrency", viper.GetInt("review.concurrency"),
		"rules", len(static.Rules()),
	)

	return pipeline.New(s, fetcher, static, agent, pipelineConfig(), logger), nil
}

// newDispatcher wires an orchestrator into a background dispatcher. The caller
// must Start it.
func newDispatcher(s store.Store) (*worker.Dispatcher, error) {
	orch, err := newOrchestrator(s)
	if err != nil {
		return nil, fmt.Errorf("configure pipeline: %w", err)
	}
	return worker.New(orch, s, worker.Options{
		Workers:   viper.GetInt("server.workers"),
		QueueSize: viper.GetInt("server.queue_size"),
	}, logger), nil
}

// durationOr returns the configured duration for key, or def when unset or invalid.
func durationOr(key string, def time.Duration) time.Duration {
	if d := viper.GetDuration(key); d > 0 {
		return d
	}
	return def
}
