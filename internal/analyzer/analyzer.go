// Package analyzer runs deterministic line-oriented rules over a changed file.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/redact"
)

// DefaultMaxLineLength is the line-too-long threshold when none is configured.
const DefaultMaxLineLength = 120

// Rule is a single independent check applied to every reviewable line.
type Rule struct {
	ID         string
	Type       string
	Severity   models.Severity
	Suggestion string
	// Match returns a description when the line violates the rule.
	Match func(line string) (string, bool)
}

// Options configures an Analyzer.
type Options struct {
	MaxLineLength int
}

// Analyzer evaluates its rules in declaration order.
type Analyzer struct {
	rules []Rule
}

// New returns an Analyzer with the default rule set.
func New(opts Options) *Analyzer {
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = DefaultMaxLineLength
	}
	return &Analyzer{rules: DefaultRules(opts.MaxLineLength)}
}

// NewWithRules returns an Analyzer that evaluates exactly the given rules.
func NewWithRules(rules ...Rule) *Analyzer {
	return &Analyzer{rules: rules}
}

// Rules returns the analyzer's rules in evaluation order.
func (a *Analyzer) Rules() []Rule {
	return append([]Rule(nil), a.rules...)
}

// Analyze returns the issues found in file. Output is grouped by rule in
// declaration order, then by line. It never fails; a clean file yields an empty slice.
func (a *Analyzer) Analyze(file models.ChangedFile) []models.Issue {
	lines := file.Lines()
	issues := []models.Issue{}

	for _, rule := range a.rules {
		for i, raw := range lines {
			text, ok := reviewable(raw, file.IsPatch)
			if !ok {
				continue
			}
			desc, hit := rule.Match(text)
			if !hit {
				continue
			}
			issues = append(issues, models.Issue{
				Type:        rule.Type,
				Line:        i + 1,
				Description: desc,
				Suggestion:  rule.Suggestion,
				Severity:    rule.Severity,
			})
		}
	}
	return issues
}

// reviewable strips the diff marker from a patch line. Only added lines of a
// patch are reviewable; context, removed lines, hunk headers and "\ No newline"
// markers belong to code the pull request did not write.
func reviewable(line string, isPatch bool) (string, bool) {
	if !isPatch {
		return line, true
	}
	if added, ok := strings.CutPrefix(line, "+"); ok {
		return added, true
	}
	return "", false
}

var (
	evalExecRe    = regexp.MustCompile(`\b(eval|exec)\s*\(`)
	bareExceptRe  = regexp.MustCompile(`except\s*:\s*pass\b`)
	printCallRe   = regexp.MustCompile(`\bprint\(`)
	mutableDefRe  = regexp.MustCompile(`\bdef\s+\w+\s*\([^)]*=\s*(\[\s*\]|\{\s*\}|list\(\)|dict\(\)|set\(\))`)
	debugStmtRe   = regexp.MustCompile(`\bpdb\.set_trace\(|\bbreakpoint\(\)|^\s*debugger;?\s*$|\bconsole\.log\(`)
	commentOnlyRe = regexp.MustCompile(`^\s*(#|//)`)
)

// DefaultRules returns the built-in rules. New rules are appended so existing
// output order stays stable.
func DefaultRules(maxLineLength int) []Rule {
	return []Rule{
		{
			ID:         "line-too-long",
			Type:       models.IssueTypeStyle,
			Severity:   models.SeverityLow,
			Suggestion: fmt.Sprintf("Limit to <= %d chars; wrap or refactor", maxLineLength),
			Match: func(line string) (string, bool) {
				n := len([]rune(line))
				if n <= maxLineLength {
					return "", false
				}
				return fmt.Sprintf("Line too long: %d chars", n), true
			},
		},
		{
			ID:         "eval-exec",
			Type:       models.IssueTypeSecurity,
			Severity:   models.SeverityHigh,
			Suggestion: "Avoid eval/exec; use safer alternatives",
			Match:      matchRegexp(evalExecRe, "Use of eval/exec"),
		},
		{
			ID:         "bare-except-pass",
			Type:       models.IssueTypeBug,
			Severity:   models.SeverityMedium,
			Suggestion: "Log or handle specific exceptions instead of except: pass",
			Match:      matchRegexp(bareExceptRe, "Bare except that silently passes"),
		},
		{
			ID:         "print-call",
			Type:       models.IssueTypeBestPractice,
			Severity:   models.SeverityMedium,
			Suggestion: "Use structured logging instead of print statements",
			Match:      matchRegexp(printCallRe, "print() call"),
		},
		{
			ID:         "mutable-default-arg",
			Type:       models.IssueTypeBug,
			Severity:   models.SeverityMedium,
			Suggestion: "Default to None and create the container inside the function",
			Match:      matchRegexp(mutableDefRe, "Mutable default argument"),
		},
		{
			ID:         "hardcoded-secret",
			Type:       models.IssueTypeSecurity,
			Severity:   models.SeverityCritical,
			Suggestion: "Load credentials from the environment or a secret manager",
			Match: func(line string) (string, bool) {
				name, ok := redact.Find(line)
				if !ok {
					return "", false
				}
				return "Hardcoded " + name, true
			},
		},
		{
			ID:         "debug-statement",
			Type:       models.IssueTypeBug,
			Severity:   models.SeverityMedium,
			Suggestion: "Remove debugging statements before merging",
			Match: func(line string) (string, bool) {
				if commentOnlyRe.MatchString(line) || !debugStmtRe.MatchString(line) {
					return "", false
				}
				return "Leftover debugging statement", true
			},
		},
	}
}

func matchRegexp(re *regexp.Regexp, desc string) func(string) (string, bool) {
	return func(line string) (string, bool) {
		if re.MatchString(line) {
			return desc, true
		}
		return "", false
	}
}
