package review

import (
	"fmt"
	"strings"

	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/redact"
)

const systemPrompt = `You are a senior code reviewer. You review one changed file of a pull request at a time and report concrete problems.

Respond with a single JSON object and nothing else:
{"issues": [{"type": "...", "line": 1, "description": "...", "suggestion": "...", "severity": "..."}]}

Rules:
- "type" is a short category such as "style", "bug", "performance", "best_practice" or "security"
- "line" is the 1-based line number shown in the left column of the file listing
- "severity" is exactly one of "low", "medium", "high", "critical"
- "description" says what is wrong; "suggestion" says how to fix it (use "" if there is nothing to add)
- Only report lines that exist in the listing
- If the file has no problems return {"issues": []}
- Return valid JSON only, no markdown fencing or explanation`

const correctiveFormat = `The previous response was not valid JSON matching the schema (%s). Reissue strictly as JSON: one object with an "issues" list whose items have exactly the fields type, line, description, suggestion and severity.`

// BuildPrompt constructs the system and user prompts for reviewing one file.
// Content is redacted and capped before it is embedded; line numbers refer to
// the unmodified content.
func BuildPrompt(file models.ChangedFile, opts Options) (system string, user string) {
	redacted := file
	if opts.RedactSecrets {
		redacted.Content = redact.Secrets(file.Content)
	}
	lines := redacted.Lines()

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", file.Name)
	if file.IsPatch {
		b.WriteString("Format: unified diff patch. Lines starting with '+' were added, '-' removed, ' ' unchanged.\n")
	}
	fmt.Fprintf(&b, "Lines: %d\n\n", len(lines))

	width := len(fmt.Sprint(len(lines)))
	written := 0
	for i, line := range lines {
		entry := fmt.Sprintf("%*d | %s\n", width, i+1, line)
		if opts.MaxContentBytes > 0 && written+len(entry) > opts.MaxContentBytes {
			fmt.Fprintf(&b, "[truncated: %d more lines not shown]\n", len(lines)-i)
			break
		}
		b.WriteString(entry)
		written += len(entry)
	}

	return systemPrompt, b.String()
}

// correctivePrompt is sent after an invalid response.
func correctivePrompt(reason error) string {
	return fmt.Sprintf(correctiveFormat, reason)
}
