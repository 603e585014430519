package provider

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"taskline/internal/domain"
)

// Runner invokes one backend with a compiled prompt and reports the
// uniform result. Implementations never return an error; spawn failures
// surface as a non-zero exit code with the failure text in Logs.
type Runner interface {
	Run(ctx context.Context, prompt string) domain.ProviderResult
}

// CommandSpec describes one backend subprocess invocation.
type CommandSpec struct {
	Argv  []string
	Dir   string
	Stdin string
	Env   []string // appended to the inherited environment
}

// CommandExecutor runs a subprocess and returns its combined output and
// exit code. Tests substitute a fake.
type CommandExecutor interface {
	Run(ctx context.Context, spec CommandSpec) (string, int)
}

// ExecCommand runs commands with os/exec.
type ExecCommand struct{}

func (ExecCommand) Run(ctx context.Context, spec CommandSpec) (string, int) {
	if len(spec.Argv) == 0 {
		return "no command configured", -1
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitCode()
		}
		// Spawn failure: binary missing, permission denied. Exit code -1
		// keeps the router's non-zero escalation path.
		return out.String() + err.Error(), -1
	}
	return out.String(), 0
}
