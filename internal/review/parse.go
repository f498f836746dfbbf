package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joescharf/prreview/internal/models"
)

type rawIssue struct {
	Type        *string `json:"type"`
	Line        *int    `json:"line"`
	Description *string `json:"description"`
	Suggestion  *string `json:"suggestion"`
	Severity    *string `json:"severity"`
}

type rawFile struct {
	Issues *[]rawIssue `json:"issues"`
}

// ParseIssues decodes a model response into issues. The response must be a
// single JSON object with an "issues" list; every issue needs all five fields
// with the right types and a line within 1..lineCount. A single surrounding
// markdown fence is tolerated. Anything else is an error.
func ParseIssues(raw string, lineCount int) ([]models.Issue, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, errors.New("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()

	var file rawFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON object")
	}
	if file.Issues == nil {
		return nil, errors.New(`missing "issues" list`)
	}

	issues := make([]models.Issue, 0, len(*file.Issues))
	for i, r := range *file.Issues {
		issue, err := r.validate(lineCount)
		if err != nil {
			return nil, fmt.Errorf("issue %d: %w", i, err)
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

func (r rawIssue) validate(lineCount int) (models.Issue, error) {
	switch {
	case r.Type == nil || strings.TrimSpace(*r.Type) == "":
		return models.Issue{}, errors.New(`missing "type"`)
	case r.Line == nil:
		return models.Issue{}, errors.New(`missing "line"`)
	case r.Description == nil || strings.TrimSpace(*r.Description) == "":
		return models.Issue{}, errors.New(`missing "description"`)
	case r.Suggestion == nil:
		return models.Issue{}, errors.New(`missing "suggestion"`)
	case r.Severity == nil:
		return models.Issue{}, errors.New(`missing "severity"`)
	}

	sev := models.Severity(*r.Severity)
	if !sev.Valid() {
		return models.Issue{}, fmt.Errorf("invalid severity %q", *r.Severity)
	}
	if *r.Line < 1 || *r.Line > lineCount {
		return models.Issue{}, fmt.Errorf("line %d out of range 1..%d", *r.Line, lineCount)
	}

	return models.Issue{
		Type:        *r.Type,
		Line:        *r.Line,
		Description: *r.Description,
		Suggestion:  *r.Suggestion,
		Severity:    sev,
	}, nil
}

// stripFence removes one surrounding ``` fence, with or without a language tag.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	body := text[3 : len(text)-3]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body)
}
