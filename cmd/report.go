package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/prreview/internal/api"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/store"
)

var (
	reportFormat string
	exportType   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long: `Export review tasks or the issues of completed reviews in various formats.

--type tasks lists one row per task; --type issues lists one row per issue
found across completed tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(cmd.Context())
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "tasks", "Data type: tasks, issues")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	switch exportType {
	case "tasks":
		return exportTasks(ctx, s)
	case "issues":
		return exportIssues(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: tasks, issues)", exportType)
	}
}

func exportTasks(ctx context.Context, s store.Store) error {
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{})
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.NewTaskList(tasks))
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "Repo", "PR", "Status", "Issues", "Critical", "Error", "Created"})
		for _, t := range tasks {
			issues, critical := "", ""
			if t.Result != nil {
				issues = strconv.Itoa(t.Result.Summary.TotalIssues)
				critical = strconv.Itoa(t.Result.Summary.CriticalIssues)
			}
			_ = w.Write([]string{t.ID, t.RepoURL, strconv.Itoa(t.PRNumber), string(t.Status),
				issues, critical, t.Error, t.CreatedAt.Format("2006-01-02T15:04:05Z")})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Review Tasks")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Repo | PR | Status | Issues | Critical |")
		fmt.Fprintln(ui.Out, "|------|---:|--------|-------:|---------:|")
		for _, t := range tasks {
			var sum models.Summary
			if t.Result != nil {
				sum = t.Result.Summary
			}
			fmt.Fprintf(ui.Out, "| %s | %d | %s | %d | %d |\n", t.RepoURL, t.PRNumber, t.Status, sum.TotalIssues, sum.CriticalIssues)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}

// issueRow flattens one issue with the task and file it belongs to.
type issueRow struct {
	TaskID   string `json:"task_id"`
	RepoURL  string `json:"repo_url"`
	PRNumber int    `json:"pr_number"`
	File     string `json:"file"`
	models.Issue
}

func exportIssues(ctx context.Context, s store.Store) error {
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{Status: models.TaskStatusCompleted})
	if err != nil {
		return err
	}

	rows := []issueRow{}
	for _, t := range tasks {
		if t.Result == nil {
			continue
		}
		for _, f := range t.Result.Files {
			for _, is := range f.Issues {
				rows = append(rows, issueRow{TaskID: t.ID, RepoURL: t.RepoURL, PRNumber: t.PRNumber, File: f.Name, Issue: is})
			}
		}
	}

	switch reportFormat {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"TaskID", "Repo", "PR", "File", "Line", "Severity", "Type", "Description", "Suggestion"})
		for _, r := range rows {
			_ = w.Write([]string{r.TaskID, r.RepoURL, strconv.Itoa(r.PRNumber), r.File, strconv.Itoa(r.Line),
				string(r.Severity), r.Type, r.Description, r.Suggestion})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Review Issues")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Repo | PR | File | Line | Severity | Description |")
		fmt.Fprintln(ui.Out, "|------|---:|------|-----:|----------|-------------|")
		for _, r := range rows {
			fmt.Fprintf(ui.Out, "| %s | %d | %s | %d | %s | %s |\n", r.RepoURL, r.PRNumber, r.File, r.Line, r.Severity, r.Description)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s", reportFormat)
	}
}
