package provider

import (
	"context"
	"strings"

	"taskline/internal/domain"
)

// Phrases in primary output that mean the backend hit capacity rather
// than genuinely failed; the router escalates to the fallback instead of
// failing the task.
var rateLimitPhrases = []string{
	"rate limit",
	"usage cap",
	"quota",
	"exceeded",
	"429",
	"overloaded",
	"too many requests",
}

// Phrases indicating the backend wanted an interactive terminal. These
// are retriable: the fallback is driven headless and does not hit them.
var stdinTTYPhrases = []string{
	"stdin is not a terminal",
	"not a tty",
	"input is not a terminal",
}

// Router invokes the primary backend and escalates to the fallback on a
// retriable failure signal. At most two invocations per run.
type Router struct {
	Primary  Runner
	Fallback Runner
}

func NewRouter(primary, fallback Runner) Router {
	return Router{Primary: primary, Fallback: fallback}
}

// Run returns the winning result and whether the run succeeded. The
// result's Provider field names the backend that produced it.
func (r Router) Run(ctx context.Context, promptText string) (domain.ProviderResult, bool) {
	primary := r.Primary.Run(ctx, promptText)
	if !r.shouldEscalate(primary) {
		return primary, primary.ExitCode == 0
	}
	fallback := r.Fallback.Run(ctx, promptText)
	return fallback, fallback.ExitCode == 0
}

func (r Router) shouldEscalate(result domain.ProviderResult) bool {
	if result.ExitCode != 0 {
		return true
	}
	logs := strings.ToLower(result.Logs)
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(logs, phrase) {
			return true
		}
	}
	return IsStdinTTYError(logs)
}

// IsStdinTTYError classifies output as the retriable interactive-stdin
// failure pattern.
func IsStdinTTYError(logs string) bool {
	lower := strings.ToLower(logs)
	for _, phrase := range stdinTTYPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
