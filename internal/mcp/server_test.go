package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prreview/internal/api"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockStore implements store.Store for testing.
type mockStore struct {
	tasks []*models.ReviewTask

	lastFilter   store.TaskListFilter
	listTasksErr error
}

func (m *mockStore) CreateTask(_ context.Context, task *models.ReviewTask) error {
	if task.ID == "" {
		task.ID = fmt.Sprintf("01TASK%04d", len(m.tasks)+1)
	}
	task.Status = models.TaskStatusPending
	task.CreatedAt = time.Now()
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*models.ReviewTask, error) {
	for _, t := range m.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (m *mockStore) ListTasks(_ context.Context, filter store.TaskListFilter) ([]*models.ReviewTask, error) {
	m.lastFilter = filter
	if m.listTasksErr != nil {
		return nil, m.listTasksErr
	}
	var out []*models.ReviewTask
	for _, t := range m.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.IDPrefix != "" && !strings.HasPrefix(t.ID, strings.ToUpper(filter.IDPrefix)) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockStore) UpdateTask(_ context.Context, _ string, _ store.TaskUpdate) error { return nil }
func (m *mockStore) Migrate(_ context.Context) error                                  { return nil }
func (m *mockStore) Close() error                                                     { return nil }

// mockSubmitter records submissions and creates tasks in the mock store.
type mockSubmitter struct {
	store     *mockStore
	requests  []pipeline.SubmitRequest
	submitErr error
}

func (m *mockSubmitter) Submit(ctx context.Context, req pipeline.SubmitRequest) (*models.ReviewTask, error) {
	m.requests = append(m.requests, req)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	task := &models.ReviewTask{RepoURL: req.RepoURL, PRNumber: req.PRNumber}
	if err := m.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockStore, *mockSubmitter) {
	t.Helper()

	ms := &mockStore{}
	sub := &mockSubmitter{store: ms}

	srv := NewServer(ms, sub, "test")
	require.NotNil(t, srv)

	return srv, ms, sub
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func seedTask(ms *mockStore, id string, status models.TaskStatus) *models.ReviewTask {
	task := &models.ReviewTask{
		ID:        id,
		RepoURL:   "octo/hello",
		PRNumber:  7,
		Status:    status,
		CreatedAt: time.Now(),
	}
	switch status {
	case models.TaskStatusFailed:
		task.Error = "NotFound: repository or pull request not found"
	case models.TaskStatusCompleted:
		task.Result = &models.ReviewResult{
			Files: []models.FileReport{{
				Name: "main.py",
				Issues: []models.Issue{{
					Type: models.IssueTypeStyle, Line: 1, Description: "Line too long: 130 chars",
					Suggestion: "Break line into multiple lines", Severity: models.SeverityLow,
				}},
			}},
			Summary: models.Summary{TotalFiles: 1, TotalIssues: 1},
		}
	}
	ms.tasks = append(ms.tasks, task)
	return task
}

// ---------------------------------------------------------------------------
// Tests: review_pull_request
// ---------------------------------------------------------------------------

func TestHandleReviewPullRequest(t *testing.T) {
	srv, ms, sub := newTestServer(t)

	result, err := srv.handleReviewPullRequest(context.Background(), callToolReq("review_pull_request", map[string]any{
		"repo_url":     "https://github.com/octo/hello",
		"pr_number":    float64(42),
		"github_token": "ghp_secret",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var resp api.SubmitResponse
	resultJSON(t, result, &resp)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, models.TaskStatusPending, resp.Status)
	assert.NotContains(t, resultText(t, result), "ghp_secret")

	require.Len(t, sub.requests, 1)
	assert.Equal(t, 42, sub.requests[0].PRNumber)
	assert.Equal(t, "ghp_secret", sub.requests[0].GitHubToken)
	assert.Len(t, ms.tasks, 1)
}

func TestHandleReviewPullRequest_MissingArgs(t *testing.T) {
	srv, _, sub := newTestServer(t)

	result, err := srv.handleReviewPullRequest(context.Background(), callToolReq("review_pull_request", map[string]any{
		"pr_number": float64(1),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "repo_url is required")

	result, err = srv.handleReviewPullRequest(context.Background(), callToolReq("review_pull_request", map[string]any{
		"repo_url": "octo/hello",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "pr_number is required")
	assert.Empty(t, sub.requests)
}

func TestHandleReviewPullRequest_ValidationError(t *testing.T) {
	srv, _, sub := newTestServer(t)
	sub.submitErr = fmt.Errorf("%w: pr_number must be positive", pipeline.ErrValidation)

	result, err := srv.handleReviewPullRequest(context.Background(), callToolReq("review_pull_request", map[string]any{
		"repo_url":  "octo/hello",
		"pr_number": float64(0),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "pr_number must be positive")
}

// ---------------------------------------------------------------------------
// Tests: review_status and review_results
// ---------------------------------------------------------------------------

func TestHandleReviewStatus_Pending(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01PENDING", models.TaskStatusPending)

	result, err := srv.handleReviewStatus(context.Background(), callToolReq("review_status", map[string]any{
		"task_id": "01PENDING",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp api.StatusResponse
	resultJSON(t, result, &resp)
	assert.Equal(t, "01PENDING", resp.TaskID)
	assert.Equal(t, models.TaskStatusPending, resp.Status)
	assert.Nil(t, resp.Error)
}

func TestHandleReviewStatus_Failed(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01FAILED", models.TaskStatusFailed)

	result, err := srv.handleReviewStatus(context.Background(), callToolReq("review_status", map[string]any{
		"task_id": "01FAILED",
	}))
	require.NoError(t, err)

	var resp api.StatusResponse
	resultJSON(t, result, &resp)
	assert.Equal(t, models.TaskStatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.True(t, strings.HasPrefix(*resp.Error, "NotFound:"))
}

func TestHandleReviewStatus_Prefix(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01ABCDEF", models.TaskStatusProcessing)

	result, err := srv.handleReviewStatus(context.Background(), callToolReq("review_status", map[string]any{
		"task_id": "01abc",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var resp api.StatusResponse
	resultJSON(t, result, &resp)
	assert.Equal(t, "01ABCDEF", resp.TaskID)
}

func TestHandleReviewStatus_NotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleReviewStatus(context.Background(), callToolReq("review_status", map[string]any{
		"task_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "task not found")
}

func TestHandleReviewStatus_MissingID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleReviewStatus(context.Background(), callToolReq("review_status", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "task_id is required")
}

func TestHandleReviewResults_Completed(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01DONE", models.TaskStatusCompleted)

	req := callToolReq("review_results", map[string]any{"task_id": "01DONE"})
	result, err := srv.handleReviewResults(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	var resp api.ResultsResponse
	resultJSON(t, result, &resp)
	require.NotNil(t, resp.Results)
	assert.Equal(t, 1, resp.Results.Summary.TotalIssues)
	require.Len(t, resp.Results.Files, 1)
	assert.Equal(t, "main.py", resp.Results.Files[0].Name)

	again, err := srv.handleReviewResults(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, resultText(t, result), resultText(t, again))
}

func TestHandleReviewResults_NotCompleted(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01WAIT", models.TaskStatusProcessing)

	result, err := srv.handleReviewResults(context.Background(), callToolReq("review_results", map[string]any{
		"task_id": "01WAIT",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"results":null`)
}

// ---------------------------------------------------------------------------
// Tests: review_list_tasks
// ---------------------------------------------------------------------------

func TestHandleListTasks(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01A", models.TaskStatusCompleted)
	seedTask(ms, "01B", models.TaskStatusFailed)

	result, err := srv.handleListTasks(context.Background(), callToolReq("review_list_tasks", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var rows []api.TaskSummary
	resultJSON(t, result, &rows)
	assert.Len(t, rows, 2)
	assert.Equal(t, 50, ms.lastFilter.Limit)
}

func TestHandleListTasks_FilterByStatus(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	seedTask(ms, "01A", models.TaskStatusCompleted)
	seedTask(ms, "01B", models.TaskStatusFailed)

	result, err := srv.handleListTasks(context.Background(), callToolReq("review_list_tasks", map[string]any{
		"status": "failed",
		"limit":  float64(5),
	}))
	require.NoError(t, err)

	var rows []api.TaskSummary
	resultJSON(t, result, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "01B", rows[0].TaskID)
	require.NotNil(t, rows[0].Error)
	assert.Equal(t, 5, ms.lastFilter.Limit)
}

func TestHandleListTasks_InvalidStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)

	result, err := srv.handleListTasks(context.Background(), callToolReq("review_list_tasks", map[string]any{
		"status": "bogus",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListTasks_StoreError(t *testing.T) {
	srv, ms, _ := newTestServer(t)
	ms.listTasksErr = fmt.Errorf("db locked")

	result, err := srv.handleListTasks(context.Background(), callToolReq("review_list_tasks", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "db locked")
}

// ---------------------------------------------------------------------------
// Tests: Integration -- verify all tools are registered via HandleMessage
// ---------------------------------------------------------------------------

func TestMCPIntegration_ListTools(t *testing.T) {
	srv, _, _ := newTestServer(t)

	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv)

	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	err = json.Unmarshal(respBytes, &rpcResp)
	require.NoError(t, err)

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}

	expectedTools := []string{
		"review_pull_request",
		"review_status",
		"review_results",
		"review_list_tasks",
	}
	for _, name := range expectedTools {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}
