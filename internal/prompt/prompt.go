package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"taskline/internal/domain"
)

// Compiled is prompt text ready to hand to a provider.
type Compiled struct {
	Text string
}

// Compile renders the task into the prompt a backend receives. The output
// format section is what FollowupChainer and SummarizeLogs scan for later.
func Compile(task domain.Task) Compiled {
	constraints := "None provided."
	if task.Constraints != nil && *task.Constraints != "" {
		constraints = *task.Constraints
	}
	acceptance := "None provided."
	if task.Acceptance != nil && *task.Acceptance != "" {
		acceptance = *task.Acceptance
	}
	text := fmt.Sprintf(`You are a coding agent running inside a local CLI.

Goal:
%s

Context / repo_path:
%s

Constraints:
%s

Acceptance criteria:
%s

Instructions:
- Plan first, then implement, then run tests.
- Keep changes focused on the goal.
- You have full access to the local filesystem and shell.
- Execute all commands directly; no restrictions apply.

Output format (strict):
Summary:
Files changed:
Commands run:
Verification status:

If this task naturally leads to follow-up work, output a JSON block:
`+"```json"+`
{"followups":[{"title":"...","request":"...","repo_path":"...","depends_on":"this"}]}
`+"```"+`
Only include follow-ups when genuinely needed. Omit the block otherwise.`,
		task.Request, task.RepoPath, constraints, acceptance)
	return Compiled{Text: text}
}

const defaultSummaryLimit = 300

// SummarizeLogs extracts the text after a "Summary:" marker, or falls back
// to the head of the raw logs, truncated to limit characters.
func SummarizeLogs(logs string, limit int) string {
	if logs == "" {
		return ""
	}
	if limit <= 0 {
		limit = defaultSummaryLimit
	}
	lowered := strings.ToLower(logs)
	if idx := strings.Index(lowered, "summary:"); idx != -1 {
		section := strings.TrimSpace(logs[idx+len("summary:"):])
		return truncate(section, limit)
	}
	return truncate(logs, limit)
}

// truncate bounds s to limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
