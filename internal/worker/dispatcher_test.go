package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prreview/internal/analyzer"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
)

type staticFetcher struct {
	files []models.ChangedFile
}

func (f staticFetcher) FetchChangedFiles(ctx context.Context, repoURL string, prNumber int, token string) ([]models.ChangedFile, error) {
	return f.files, nil
}

type reviewFunc func(ctx context.Context, file models.ChangedFile) ([]models.Issue, error)

func (fn reviewFunc) Review(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
	return fn(ctx, file)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "test.db"))
}

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newOrchestrator(s store.Store, r pipeline.Reviewer) *pipeline.Orchestrator {
	files := []models.ChangedFile{{Name: "a.py", Content: "print('hi')\n"}}
	return pipeline.New(s, staticFetcher{files: files}, analyzer.New(analyzer.Options{}), r, pipeline.DefaultConfig(), nil)
}

func noIssues(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
	return []models.Issue{}, nil
}

func waitForStatus(t *testing.T, s store.Store, id string, want models.TaskStatus) *models.ReviewTask {
	t.Helper()
	var task *models.ReviewTask
	require.Eventually(t, func() bool {
		got, err := s.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		task = got
		return got.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func TestDispatcher_SubmitRunsTask(t *testing.T) {
	s := newTestStore(t)
	d := New(newOrchestrator(s, reviewFunc(noIssues)), s, Options{Workers: 2, QueueSize: 4}, nil)
	d.Start(context.Background())
	defer d.Stop()

	task, err := d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	done := waitForStatus(t, s, task.ID, models.TaskStatusCompleted)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.Summary.TotalIssues)
}

func TestDispatcher_SubmitValidation(t *testing.T) {
	s := newTestStore(t)
	d := New(newOrchestrator(s, reviewFunc(noIssues)), s, Options{}, nil)
	d.Start(context.Background())
	defer d.Stop()

	_, err := d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 0})
	assert.ErrorIs(t, err, pipeline.ErrValidation)

	tasks, err := s.ListTasks(context.Background(), store.TaskListFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDispatcher_QueueFull(t *testing.T) {
	s := newTestStore(t)
	release := make(chan struct{})
	blocking := reviewFunc(func(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return []models.Issue{}, nil
	})
	d := New(newOrchestrator(s, blocking), s, Options{Workers: 1, QueueSize: 1}, nil)
	d.Start(context.Background())
	defer d.Stop()
	defer close(release)

	first, err := d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 1})
	require.NoError(t, err)
	waitForStatus(t, s, first.ID, models.TaskStatusProcessing)

	_, err = d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 2})
	require.NoError(t, err, "fills the queue")

	_, err = d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 3})
	assert.ErrorIs(t, err, ErrQueueFull)

	failed, err := s.ListTasks(context.Background(), store.TaskListFilter{Status: models.TaskStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].PRNumber)
}

func TestDispatcher_StopCancelsInFlight(t *testing.T) {
	s := newTestStore(t)
	blocking := reviewFunc(func(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := New(newOrchestrator(s, blocking), s, Options{Workers: 1, QueueSize: 2}, nil)
	d.Start(context.Background())

	task, err := d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 1})
	require.NoError(t, err)
	waitForStatus(t, s, task.ID, models.TaskStatusProcessing)

	d.Stop()

	got, err := s.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, "Cancelled: review cancelled before completion", got.Error)

	_, err = d.Submit(context.Background(), pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 2})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDispatcher_Recover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := &models.ReviewTask{RepoURL: "octo/hello", PRNumber: 1}
	require.NoError(t, s.CreateTask(ctx, stale))
	require.NoError(t, s.UpdateTask(ctx, stale.ID, store.TaskUpdate{Status: models.TaskStatusProcessing}))

	queued := &models.ReviewTask{RepoURL: "octo/hello", PRNumber: 2}
	require.NoError(t, s.CreateTask(ctx, queued))

	d := New(newOrchestrator(s, reviewFunc(noIssues)), s, Options{Workers: 1, QueueSize: 4}, nil)
	d.Start(ctx)
	defer d.Stop()

	requeued, interrupted, err := d.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, interrupted)

	got, err := s.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, InterruptedMessage, got.Error)

	waitForStatus(t, s, queued.ID, models.TaskStatusCompleted)
}

func TestDispatcher_RecoverSkipsLiveOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	// Process A: a foreground run blocked inside the model review.
	storeA := openStore(t, path)
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := reviewFunc(func(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
		close(entered)
		<-release
		return []models.Issue{}, nil
	})
	orchA := newOrchestrator(storeA, blocking)
	task, err := orchA.Submit(ctx, pipeline.SubmitRequest{RepoURL: "octo/hello", PRNumber: 1})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- orchA.Run(ctx, task.ID, "") }()
	<-entered

	// Process B: a server starting up on the same database.
	storeB := openStore(t, path)
	d := New(newOrchestrator(storeB, reviewFunc(noIssues)), storeB, Options{Workers: 1, QueueSize: 4}, nil)
	requeued, interrupted, err := d.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)
	assert.Zero(t, interrupted)

	close(release)
	require.NoError(t, <-runErr)

	got, err := storeB.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.Result)
}

func TestDispatcher_RecoverOwnerLiveness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dead := &models.ReviewTask{RepoURL: "octo/hello", PRNumber: 1}
	require.NoError(t, s.CreateTask(ctx, dead))
	require.NoError(t, s.UpdateTask(ctx, dead.ID, store.TaskUpdate{Status: models.TaskStatusProcessing, OwnerPID: 4001}))

	live := &models.ReviewTask{RepoURL: "octo/hello", PRNumber: 2}
	require.NoError(t, s.CreateTask(ctx, live))
	require.NoError(t, s.UpdateTask(ctx, live.ID, store.TaskUpdate{Status: models.TaskStatusProcessing, OwnerPID: 4002}))

	alive := func(pid int) bool { return pid == 4002 }
	d := New(newOrchestrator(s, reviewFunc(noIssues)), s, Options{Workers: 1, QueueSize: 4, Alive: alive}, nil)

	_, interrupted, err := d.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, interrupted)

	got, err := s.GetTask(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	assert.Equal(t, InterruptedMessage, got.Error)

	got, err = s.GetTask(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, got.Status)
}
