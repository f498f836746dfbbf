// Package report merges per-file findings and derives the review summary.
package report

import "github.com/joescharf/prreview/internal/models"

// Aggregate builds the report for one file: static issues first, then model
// issues, each in the order given. Issues whose line is outside the file's
// content are dropped.
func Aggregate(file models.ChangedFile, static, model []models.Issue) models.FileReport {
	lineCount := file.LineCount()
	issues := make([]models.Issue, 0, len(static)+len(model))

	for _, group := range [][]models.Issue{static, model} {
		for _, is := range group {
			if is.Line < 1 || is.Line > lineCount {
				continue
			}
			issues = append(issues, is)
		}
	}
	return models.FileReport{Name: file.Name, Issues: issues}
}

// Summarize computes the summary counters for files.
func Summarize(files []models.FileReport) models.Summary {
	s := models.Summary{TotalFiles: len(files)}
	for _, f := range files {
		s.TotalIssues += len(f.Issues)
		for _, is := range f.Issues {
			if is.Severity == models.SeverityCritical {
				s.CriticalIssues++
			}
		}
	}
	return s
}

// Build assembles a ReviewResult whose summary is derived from files.
func Build(files []models.FileReport) *models.ReviewResult {
	if files == nil {
		files = []models.FileReport{}
	}
	return &models.ReviewResult{Files: files, Summary: Summarize(files)}
}
