package api

import (
	"time"

	"github.com/joescharf/prreview/internal/models"
)

// SubmitResponse is returned when a review is accepted.
type SubmitResponse struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
}

// StatusResponse reports a task's status. Error is null unless failed.
type StatusResponse struct {
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status"`
	Error  *string           `json:"error"`
}

// ResultsResponse carries the report. Results is null unless completed.
type ResultsResponse struct {
	TaskID  string               `json:"task_id"`
	Status  models.TaskStatus    `json:"status"`
	Results *models.ReviewResult `json:"results"`
}

// TaskSummary is one row of the task listing.
type TaskSummary struct {
	TaskID    string            `json:"task_id"`
	RepoURL   string            `json:"repo_url"`
	PRNumber  int               `json:"pr_number"`
	Status    models.TaskStatus `json:"status"`
	Error     *string           `json:"error"`
	CreatedAt time.Time         `json:"created_at"`
}

func NewSubmitResponse(t *models.ReviewTask) SubmitResponse {
	return SubmitResponse{TaskID: t.ID, Status: t.Status}
}

func NewStatusResponse(t *models.ReviewTask) StatusResponse {
	return StatusResponse{TaskID: t.ID, Status: t.Status, Error: errorOf(t)}
}

func NewResultsResponse(t *models.ReviewTask) ResultsResponse {
	resp := ResultsResponse{TaskID: t.ID, Status: t.Status}
	if t.Status == models.TaskStatusCompleted {
		resp.Results = t.Result
	}
	return resp
}

func NewTaskList(tasks []*models.ReviewTask) []TaskSummary {
	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskSummary{
			TaskID:    t.ID,
			RepoURL:   t.RepoURL,
			PRNumber:  t.PRNumber,
			Status:    t.Status,
			Error:     errorOf(t),
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}

func errorOf(t *models.ReviewTask) *string {
	if t.Status != models.TaskStatusFailed || t.Error == "" {
		return nil
	}
	msg := t.Error
	return &msg
}
