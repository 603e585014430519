package provider

import (
	"context"

	"taskline/internal/domain"
)

const ProviderClaude = "claude"

// ClaudeRunner drives the Claude Code CLI. The prompt is piped on stdin,
// which the CLI accepts in non-interactive use.
type ClaudeRunner struct {
	Command  []string
	RepoPath string
	Exec     CommandExecutor
}

func NewClaudeRunner(command []string, repoPath string) *ClaudeRunner {
	return &ClaudeRunner{Command: command, RepoPath: repoPath, Exec: ExecCommand{}}
}

func (r *ClaudeRunner) Run(ctx context.Context, prompt string) domain.ProviderResult {
	logs, exitCode := r.Exec.Run(ctx, CommandSpec{
		Argv:  r.Command,
		Dir:   r.RepoPath,
		Stdin: prompt,
	})
	return domain.ProviderResult{Provider: ProviderClaude, ExitCode: exitCode, Logs: logs}
}
