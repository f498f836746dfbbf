// Package pipeline drives one review task from submission to a terminal
// status: fetch the changed files, analyze and review them with bounded
// concurrency, aggregate, persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/report"
	"github.com/joescharf/prreview/internal/store"
)

// Fetcher returns the changed files of a pull request.
type Fetcher interface {
	FetchChangedFiles(ctx context.Context, repoURL string, prNumber int, token string) ([]models.ChangedFile, error)
}

// Analyzer runs the static rules over one file.
type Analyzer interface {
	Analyze(file models.ChangedFile) []models.Issue
}

// Reviewer asks the model for issues in one file.
type Reviewer interface {
	Review(ctx context.Context, file models.ChangedFile) ([]models.Issue, error)
}

// SubmitRequest is a review submission.
type SubmitRequest struct {
	RepoURL     string
	PRNumber    int
	GitHubToken string
}

// Orchestrator owns the task state machine. Each Run writes only its own task.
type Orchestrator struct {
	store    store.Store
	fetcher  Fetcher
	analyzer Analyzer
	reviewer Reviewer
	cfg      Config
	logger   *slog.Logger
}

// New creates an Orchestrator. A nil logger discards output.
func New(s store.Store, f Fetcher, a Analyzer, r Reviewer, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		store:    s,
		fetcher:  f,
		analyzer: a,
		reviewer: r,
		cfg:      cfg.normalized(),
		logger:   logger,
	}
}

// Validate checks a submission without side effects.
func Validate(req SubmitRequest) error {
	if req.PRNumber <= 0 {
		return fmt.Errorf("%w: pr_number must be a positive integer", ErrValidation)
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		return fmt.Errorf("%w: repo_url is required", ErrValidation)
	}
	if _, _, err := github.ParseRepo(req.RepoURL); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Submit validates req and creates a pending task. Invalid submissions fail
// with ErrValidation and create nothing.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.ReviewTask, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	task := &models.ReviewTask{
		RepoURL:  strings.TrimSpace(req.RepoURL),
		PRNumber: req.PRNumber,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	o.logger.Info("review.submitted", "task_id", task.ID, "repo", task.RepoURL, "pr", task.PRNumber)
	return task, nil
}

// Run executes a pending task to a terminal status. It returns nil when the
// task completed and the recorded cause when it failed. A task that is no
// longer pending is left untouched.
func (o *Orchestrator) Run(ctx context.Context, taskID, token string) (err error) {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.Status != models.TaskStatusPending {
		return fmt.Errorf("task %s is %s, not pending", taskID, task.Status)
	}
	if err := o.store.UpdateTask(ctx, taskID, store.TaskUpdate{
		Status:   models.TaskStatusProcessing,
		OwnerPID: o.cfg.OwnerPID,
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = o.fail(ctx, taskID, fmt.Errorf("%w: panic: %v", ErrInternal, r))
		}
	}()

	if token == "" {
		token = o.cfg.DefaultToken
	}

	start := time.Now()
	log := o.logger.With("task_id", taskID)
	log.Info("review.start", "repo", task.RepoURL, "pr", task.PRNumber, "token_present", token != "")

	files, err := o.fetch(ctx, log, task, token)
	if err != nil {
		return o.fail(ctx, taskID, err)
	}
	log.Info("review.fetched", "files", len(files), "duration_ms", time.Since(start).Milliseconds())

	reports, err := o.reviewFiles(ctx, log, files)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return o.fail(ctx, taskID, err)
	}

	result := report.Build(reports)
	if err := o.store.UpdateTask(context.WithoutCancel(ctx), taskID, store.TaskUpdate{
		Status: models.TaskStatusCompleted,
		Result: result,
	}); err != nil {
		return o.fail(ctx, taskID, fmt.Errorf("%w: save result: %w", ErrInternal, err))
	}

	log.Info("review.completed",
		"files", result.Summary.TotalFiles,
		"issues", result.Summary.TotalIssues,
		"critical", result.Summary.CriticalIssues,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// fetch retries UpstreamUnavailable failures with exponential backoff.
func (o *Orchestrator) fetch(ctx context.Context, log *slog.Logger, task *models.ReviewTask, token string) ([]models.ChangedFile, error) {
	var files []models.ChangedFile
	err := retry.Do(
		func() error {
			var err error
			files, err = o.fetcher.FetchChangedFiles(ctx, task.RepoURL, task.PRNumber, token)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.cfg.FetchAttempts)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(o.cfg.FetchRetryDelay),
		retry.MaxDelay(10*time.Second),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, github.ErrUpstreamUnavailable)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("review.fetch_retry", "attempt", n+1, "max_attempts", o.cfg.FetchAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	return files, err
}

// reviewFiles analyzes and reviews every file with at most cfg.Concurrency
// reviews in flight. Reports keep the fetcher's file order.
func (o *Orchestrator) reviewFiles(ctx context.Context, log *slog.Logger, files []models.ChangedFile) ([]models.FileReport, error) {
	reports := make([]models.FileReport, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, file := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: panic reviewing %s: %v", ErrInternal, file.Name, r)
				}
			}()

			static := o.analyzer.Analyze(file)
			model, err := o.reviewer.Review(gctx, file)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if o.cfg.FailFast {
					return fmt.Errorf("review %s: %w", file.Name, err)
				}
				log.Warn("review.file_degraded", "file", file.Name, "kind", Kind(err), "error", err)
				model = nil
			}

			reports[i] = report.Aggregate(file, static, model)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// fail records a terminal failure for the task and returns cause. The write
// ignores cancellation of ctx so a cancelled run still ends in a terminal state.
func (o *Orchestrator) fail(ctx context.Context, taskID string, cause error) error {
	msg := FailureMessage(cause)
	o.logger.Error("review.failed", "task_id", taskID, "kind", Kind(cause), "error", cause)

	err := o.store.UpdateTask(context.WithoutCancel(ctx), taskID, store.TaskUpdate{
		Status: models.TaskStatusFailed,
		Error:  msg,
	})
	if err != nil {
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	return cause
}
