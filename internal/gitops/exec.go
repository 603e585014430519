package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecGit runs git subprocesses. Each invocation is independent and
// non-interactive.
type ExecGit struct{}

func (ExecGit) Run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(errOut.String())
		if detail == "" {
			detail = err.Error()
		}
		return out.String(), fmt.Errorf("git %s: %s", args[0], detail)
	}
	return out.String(), nil
}
