package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/joescharf/prreview/internal/models"
)

// TaskHeader prints the one-line identity and status of a task.
func (u *UI) TaskHeader(t *models.ReviewTask) {
	fmt.Fprintf(u.Out, "%s  %s #%d  %s\n", Cyan(t.ID), t.RepoURL, t.PRNumber, StatusColor(string(t.Status)))
	if t.Status == models.TaskStatusFailed && t.Error != "" {
		fmt.Fprintf(u.Out, "  %s\n", Red(t.Error))
	}
}

// ReviewTable renders every issue of a report as one table row, followed by the summary.
func (u *UI) ReviewTable(r *models.ReviewResult) error {
	if r == nil {
		u.Info("No results yet")
		return nil
	}

	if r.Summary.TotalIssues == 0 {
		u.Success("No issues found in %d file(s)", r.Summary.TotalFiles)
		return nil
	}

	table := u.Table([]string{"FILE", "LINE", "SEVERITY", "TYPE", "DESCRIPTION", "SUGGESTION"})
	for _, f := range r.Files {
		for _, is := range f.Issues {
			if err := table.Append([]string{
				f.Name,
				fmt.Sprintf("%d", is.Line),
				SeverityColor(string(is.Severity)),
				is.Type,
				is.Description,
				is.Suggestion,
			}); err != nil {
				return err
			}
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintln(u.Out)
	fmt.Fprintf(u.Out, "Files: %d  Issues: %d  Critical: %s\n",
		r.Summary.TotalFiles, r.Summary.TotalIssues, CountColor(r.Summary.CriticalIssues))
	return nil
}

// TaskTable renders a task listing.
func (u *UI) TaskTable(tasks []*models.ReviewTask) error {
	if len(tasks) == 0 {
		u.Info("No tasks found")
		return nil
	}

	table := u.Table([]string{"ID", "REPO", "PR", "STATUS", "CREATED", "ERROR"})
	for _, t := range tasks {
		id := t.ID
		if len(id) > 12 {
			id = id[:12]
		}
		if err := table.Append([]string{
			id,
			t.RepoURL,
			fmt.Sprintf("%d", t.PRNumber),
			StatusColor(string(t.Status)),
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			t.Error,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

// Markdown writes a completed task's report as a markdown document suitable
// for pasting into a pull request comment.
func Markdown(w io.Writer, t *models.ReviewTask) error {
	var b strings.Builder

	fmt.Fprintf(&b, "## Review of %s #%d\n\n", t.RepoURL, t.PRNumber)
	if t.Result == nil {
		fmt.Fprintf(&b, "Status: **%s**\n", t.Status)
		if t.Error != "" {
			fmt.Fprintf(&b, "\n> %s\n", t.Error)
		}
		_, err := io.WriteString(w, b.String())
		return err
	}

	s := t.Result.Summary
	fmt.Fprintf(&b, "**%d** file(s), **%d** issue(s), **%d** critical\n", s.TotalFiles, s.TotalIssues, s.CriticalIssues)

	for _, f := range t.Result.Files {
		if len(f.Issues) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### `%s`\n\n", f.Name)
		b.WriteString("| Line | Severity | Type | Description | Suggestion |\n")
		b.WriteString("|---:|---|---|---|---|\n")
		for _, is := range f.Issues {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				is.Line, is.Severity, is.Type, mdCell(is.Description), mdCell(is.Suggestion))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
