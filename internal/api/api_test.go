package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prreview/internal/analyzer"
	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
	"github.com/joescharf/prreview/internal/worker"
)

type fakeFetcher struct {
	files []models.ChangedFile
	err   error
}

func (f fakeFetcher) FetchChangedFiles(ctx context.Context, repoURL string, prNumber int, token string) ([]models.ChangedFile, error) {
	return f.files, f.err
}

type emptyReviewer struct{}

func (emptyReviewer) Review(ctx context.Context, file models.ChangedFile) ([]models.Issue, error) {
	return []models.Issue{}, nil
}

type rejectingSubmitter struct{ err error }

func (r rejectingSubmitter) Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.ReviewTask, error) {
	return nil, r.err
}

func setupTestServer(t *testing.T, f fakeFetcher, auth *Authenticator) (*Server, *pipeline.Orchestrator, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	orch := pipeline.New(s, f, analyzer.New(analyzer.Options{}), emptyReviewer{}, pipeline.DefaultConfig(), nil)
	srv := NewServer(s, orch, auth, nil)
	return srv, orch, s
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func submitTask(t *testing.T, h http.Handler, header ...string) SubmitResponse {
	t.Helper()
	w := do(t, h, "POST", "/github/analyze-pr", `{"repo_url":"https://github.com/octo/hello","pr_number":7,"github_token":"ghp_x"}`, header...)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setupTestServer(t, fakeFetcher{}, nil)
	w := do(t, srv.Router(), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAnalyzePR_Pending(t *testing.T) {
	srv, _, _ := setupTestServer(t, fakeFetcher{}, nil)
	router := srv.Router()

	resp := submitTask(t, router)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, models.TaskStatusPending, resp.Status)

	w := do(t, router, "GET", "/github/status/"+resp.TaskID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"task_id":"`+resp.TaskID+`","status":"pending","error":null}`, w.Body.String())

	w = do(t, router, "GET", "/github/results/"+resp.TaskID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"task_id":"`+resp.TaskID+`","status":"pending","results":null}`, w.Body.String())
}

func TestAnalyzePR_Validation(t *testing.T) {
	srv, _, s := setupTestServer(t, fakeFetcher{}, nil)
	router := srv.Router()

	tests := []struct {
		name string
		body string
	}{
		{"zero pr", `{"repo_url":"octo/hello","pr_number":0}`},
		{"negative pr", `{"repo_url":"octo/hello","pr_number":-1}`},
		{"missing pr", `{"repo_url":"octo/hello"}`},
		{"string pr", `{"repo_url":"octo/hello","pr_number":"7"}`},
		{"bad repo", `{"repo_url":"nope","pr_number":7}`},
		{"invalid json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/github/analyze-pr", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}

	tasks, err := s.ListTasks(context.Background(), store.TaskListFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestAnalyzePR_QueueFull(t *testing.T) {
	srv, _, s := setupTestServer(t, fakeFetcher{}, nil)
	srv = NewServer(s, rejectingSubmitter{err: worker.ErrQueueFull}, nil, nil)

	w := do(t, srv.Router(), "POST", "/github/analyze-pr", `{"repo_url":"octo/hello","pr_number":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusAndResults_NotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, fakeFetcher{}, nil)
	router := srv.Router()

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/github/status/nope", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/github/results/nope", "").Code)
}

func TestResults_Completed(t *testing.T) {
	f := fakeFetcher{files: []models.ChangedFile{{Name: "a.py", Content: "print(1)\neval(x)\n"}}}
	srv, orch, _ := setupTestServer(t, f, nil)
	router := srv.Router()

	resp := submitTask(t, router)
	require.NoError(t, orch.Run(context.Background(), resp.TaskID, ""))

	w := do(t, router, "GET", "/github/status/"+resp.TaskID, "")
	assert.JSONEq(t, `{"task_id":"`+resp.TaskID+`","status":"completed","error":null}`, w.Body.String())

	first := do(t, router, "GET", "/github/results/"+resp.TaskID, "")
	require.Equal(t, http.StatusOK, first.Code)

	var results ResultsResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &results))
	assert.Equal(t, models.TaskStatusCompleted, results.Status)
	require.NotNil(t, results.Results)
	assert.Equal(t, models.Summary{TotalFiles: 1, TotalIssues: 2, CriticalIssues: 0}, results.Results.Summary)
	assert.Equal(t, "a.py", results.Results.Files[0].Name)

	second := do(t, router, "GET", "/github/results/"+resp.TaskID, "")
	assert.Equal(t, first.Body.String(), second.Body.String(), "reads are byte-identical")
}

func TestStatus_Failed(t *testing.T) {
	srv, orch, _ := setupTestServer(t, fakeFetcher{err: github.ErrNotFound}, nil)
	router := srv.Router()

	resp := submitTask(t, router)
	require.Error(t, orch.Run(context.Background(), resp.TaskID, ""))

	w := do(t, router, "GET", "/github/status/"+resp.TaskID, "")
	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.TaskStatusFailed, status.Status)
	require.NotNil(t, status.Error)
	assert.Contains(t, *status.Error, "NotFound")

	w = do(t, router, "GET", "/github/results/"+resp.TaskID, "")
	assert.JSONEq(t, `{"task_id":"`+resp.TaskID+`","status":"failed","results":null}`, w.Body.String())
}

func TestListTasks(t *testing.T) {
	srv, orch, _ := setupTestServer(t, fakeFetcher{}, nil)
	router := srv.Router()

	first := submitTask(t, router)
	second := submitTask(t, router)
	require.NoError(t, orch.Run(context.Background(), first.TaskID, ""))

	w := do(t, router, "GET", "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = do(t, router, "GET", "/api/v1/tasks?status=pending", "")
	var pending []TaskSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, second.TaskID, pending[0].TaskID)
	assert.Equal(t, 7, pending[0].PRNumber)

	w = do(t, router, "GET", "/api/v1/tasks?status=done", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/tasks?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "GET", "/api/v1/tasks?status=failed", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAuth(t *testing.T) {
	auth := NewAuthenticator("s3cret", "gh-review-agent")
	srv, _, _ := setupTestServer(t, fakeFetcher{}, auth)
	router := srv.Router()

	good, err := NewToken("s3cret", "gh-review-agent", time.Hour)
	require.NoError(t, err)
	wrongSecret, err := NewToken("other", "gh-review-agent", time.Hour)
	require.NoError(t, err)
	wrongSubject, err := NewToken("s3cret", "someone-else", time.Hour)
	require.NoError(t, err)
	expired, err := NewToken("s3cret", "gh-review-agent", -time.Minute)
	require.NoError(t, err)

	body := `{"repo_url":"octo/hello","pr_number":1}`

	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/healthz", "").Code, "healthz is open")
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/github/analyze-pr", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/github/analyze-pr", body, "Authorization", "Bearer "+wrongSecret).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/github/analyze-pr", body, "Authorization", "Bearer "+wrongSubject).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "POST", "/github/analyze-pr", body, "Authorization", "Token "+good).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, "GET", "/github/status/x", "", "Authorization", "Bearer "+expired).Code)

	resp := submitTask(t, router, "Authorization", "Bearer "+good)
	w := do(t, router, "GET", "/github/status/"+resp.TaskID, "", "Authorization", "Bearer "+good)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewAuthenticator_Disabled(t *testing.T) {
	assert.Nil(t, NewAuthenticator("", "anything"))

	_, err := NewToken("", "sub", 0)
	assert.Error(t, err)
}

func TestAuthenticator_NoSubjectCheck(t *testing.T) {
	auth := NewAuthenticator("s3cret", "")
	tok, err := NewToken("s3cret", "", 0)
	require.NoError(t, err)
	assert.NoError(t, auth.Verify("Bearer "+tok))
	assert.Error(t, auth.Verify(""))
}
