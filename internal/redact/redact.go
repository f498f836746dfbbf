// Package redact detects credentials in source lines and masks them before
// file content leaves the process.
package redact

import (
	"regexp"
	"strings"
)

// Placeholder replaces every detected secret.
const Placeholder = "[REDACTED]"

// Pattern is a named secret shape.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// Patterns are checked in order; the first match names the finding.
var Patterns = []Pattern{
	{"private key", regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE KEY-----`)},
	{"AWS access key id", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"GitHub token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9_]{36,}`)},
	{"Slack token", regexp.MustCompile(`\bxox[bporas]-[A-Za-z0-9-]{10,}`)},
	{"Anthropic API key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}`)},
	{"OpenAI API key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}`)},
	{"JWT", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"bearer token", regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]{20,}`)},
	{"API key assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|api[_-]?secret)\s*[:=]\s*["']?[A-Za-z0-9/+=_-]{20,}["']?`)},
	{"AWS secret key assignment", regexp.MustCompile(`(?i)\baws[_-]?secret[_-]?access[_-]?key\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}["']?`)},
	{"credential assignment", regexp.MustCompile(`(?i)\b(?:secret|token|password|passwd|credential)s?\s*[:=]\s*["'][^"']{8,}["']`)},
}

// Find returns the name of the first secret pattern that matches line.
func Find(line string) (string, bool) {
	for _, p := range Patterns {
		if p.Re.MatchString(line) {
			return p.Name, true
		}
	}
	return "", false
}

// Secrets masks every detected secret in text. Replacement happens per line so
// the result has the same number of lines as the input.
func Secrets(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = Line(line)
	}
	return strings.Join(lines, "\n")
}

// Line masks every detected secret in a single line.
func Line(line string) string {
	for _, p := range Patterns {
		line = p.Re.ReplaceAllString(line, Placeholder)
	}
	return line
}
