package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/prreview/internal/api"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
)

// Server exposes review submission and task queries as MCP tools.
type Server struct {
	store     store.Store
	submitter api.Submitter
	version   string
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, sub api.Submitter, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{
		store:     s,
		submitter: sub,
		version:   version,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prreview", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.reviewPullRequestTool())
	srv.AddTool(s.reviewStatusTool())
	srv.AddTool(s.reviewResultsTool())
	srv.AddTool(s.listTasksTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// review_pull_request
func (s *Server) reviewPullRequestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_pull_request",
		mcp.WithDescription("Submit a GitHub pull request for automated review. Returns the task id with status pending; poll review_status until the task is completed or failed."),
		mcp.WithString("repo_url", mcp.Required(), mcp.Description("Repository URL or owner/repo")),
		mcp.WithNumber("pr_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("github_token", mcp.Description("GitHub token for private repositories. Never stored.")),
	)
	return tool, s.handleReviewPullRequest
}

func (s *Server) handleReviewPullRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repoURL, err := request.RequireString("repo_url")
	if err != nil {
		return mcp.NewToolResultError("repo_url is required"), nil
	}
	prNumber, err := request.RequireInt("pr_number")
	if err != nil {
		return mcp.NewToolResultError("pr_number is required"), nil
	}

	task, err := s.submitter.Submit(ctx, pipeline.SubmitRequest{
		RepoURL:     repoURL,
		PRNumber:    prNumber,
		GitHubToken: request.GetString("github_token", ""),
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to submit review: %v", err)), nil
	}

	return jsonResult(api.NewSubmitResponse(task))
}

// review_status
func (s *Server) reviewStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_status",
		mcp.WithDescription("Get the status of a review task (pending, processing, completed, failed). Accepts a full task id or a unique prefix."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID or unique prefix")),
	)
	return tool, s.handleReviewStatus
}

func (s *Server) handleReviewStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, errResult := s.lookupTask(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(api.NewStatusResponse(task))
}

// review_results
func (s *Server) reviewResultsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_results",
		mcp.WithDescription("Get the review report of a task. results is null until the task is completed."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID or unique prefix")),
	)
	return tool, s.handleReviewResults
}

func (s *Server) handleReviewResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, errResult := s.lookupTask(ctx, request)
	if errResult != nil {
		return errResult, nil
	}
	return jsonResult(api.NewResultsResponse(task))
}

// review_list_tasks
func (s *Server) listTasksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_list_tasks",
		mcp.WithDescription("List review tasks, newest first."),
		mcp.WithString("status", mcp.Description("Filter by status: pending, processing, completed, failed")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return (default 50)")),
	)
	return tool, s.handleListTasks
}

func (s *Server) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.TaskListFilter{
		Status: models.TaskStatus(request.GetString("status", "")),
		Limit:  request.GetInt("limit", 50),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", filter.Status)), nil
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	return jsonResult(api.NewTaskList(tasks))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) lookupTask(ctx context.Context, request mcp.CallToolRequest) (*models.ReviewTask, *mcp.CallToolResult) {
	id, err := request.RequireString("task_id")
	if err != nil {
		return nil, mcp.NewToolResultError("task_id is required")
	}
	task, err := store.FindTask(ctx, s.store, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, mcp.NewToolResultError(fmt.Sprintf("task not found: %s", id))
		}
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to get task: %v", err))
	}
	return task, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
