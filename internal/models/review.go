package models

import "strings"

// Severity is an ordered issue severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return SeverityRank(s) > 0
}

// SeverityRank returns a numeric rank for sorting (higher = more severe).
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Issue types emitted by the static rules. The model may use any other tag.
const (
	IssueTypeStyle        = "style"
	IssueTypeBug          = "bug"
	IssueTypePerformance  = "performance"
	IssueTypeBestPractice = "best_practice"
	IssueTypeSecurity     = "security"
)

// Issue is a single finding attached to a line of a changed file.
type Issue struct {
	Type        string   `json:"type"`
	Line        int      `json:"line"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
	Severity    Severity `json:"severity"`
}

// FileReport holds the merged findings for one changed file.
type FileReport struct {
	Name   string  `json:"name"`
	Issues []Issue `json:"issues"`
}

// Summary holds counters derived from a ReviewResult's files.
type Summary struct {
	TotalFiles     int `json:"total_files"`
	TotalIssues    int `json:"total_issues"`
	CriticalIssues int `json:"critical_issues"`
}

// ReviewResult is the final report persisted for a completed task.
type ReviewResult struct {
	Files   []FileReport `json:"files"`
	Summary Summary      `json:"summary"`
}

// ChangedFile is one file of a pull request as handed to the analysis stages.
// Content is the text both the static rules and the model see; Issue.Line indexes it.
type ChangedFile struct {
	Name    string
	Status  string // added, modified, removed, renamed...
	Content string
	IsPatch bool // Content is a unified diff hunk list rather than full file text
}

// LineCount returns the number of lines in Content. A trailing newline does not
// start a new line and empty content has zero lines.
func (f ChangedFile) LineCount() int {
	return CountLines(f.Content)
}

// CountLines counts newline-separated lines the way editors number them.
func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}

// Lines splits Content into lines without their terminators.
func (f ChangedFile) Lines() []string {
	if f.Content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(f.Content, "\n"), "\n")
}
