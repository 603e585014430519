package provider

import (
	"context"

	"taskline/internal/domain"
)

const ProviderCodex = "codex"

// CodexRunner drives the Codex CLI in headless mode. The Codex binary
// expects an interactive TTY on stdin, so the prompt travels as a
// --prompt argument with stdin left closed and CI=1 forcing
// non-interactive behavior.
type CodexRunner struct {
	Command  []string
	RepoPath string
	Exec     CommandExecutor
}

func NewCodexRunner(command []string, repoPath string) *CodexRunner {
	return &CodexRunner{Command: command, RepoPath: repoPath, Exec: ExecCommand{}}
}

func (r *CodexRunner) Run(ctx context.Context, prompt string) domain.ProviderResult {
	argv := append(append([]string{}, r.Command...), "--prompt", prompt)
	logs, exitCode := r.Exec.Run(ctx, CommandSpec{
		Argv: argv,
		Dir:  r.RepoPath,
		Env:  []string{"CI=1"},
	})
	return domain.ProviderResult{Provider: ProviderCodex, ExitCode: exitCode, Logs: logs}
}
