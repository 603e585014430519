package gitops

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"taskline/internal/config"
	"taskline/internal/domain"
)

// Runner executes one git subcommand in a working tree and returns its
// combined output. Implementations must be non-interactive.
type Runner interface {
	Run(ctx context.Context, repoPath string, args ...string) (string, error)
}

// Lifecycle wraps a run with branch setup and commit/push teardown.
// Every failure degrades to a log string; git never fails a task.
type Lifecycle struct {
	Config config.GitConfig
	Git    Runner
}

func New(cfg config.GitConfig) Lifecycle {
	return Lifecycle{Config: cfg, Git: ExecGit{}}
}

const slugMaxLen = 50

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases the title and collapses non-alphanumeric runs to
// single hyphens, bounded to a branch-name-friendly length.
func Slugify(text string) string {
	slug := nonAlnum.ReplaceAllString(strings.ToLower(text), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > slugMaxLen {
		slug = strings.Trim(slug[:slugMaxLen], "-")
	}
	return slug
}

// BranchName derives the deterministic branch for a task. Determinism
// makes Pre idempotent across retries of the same task.
func (l Lifecycle) BranchName(taskID int64, title string) string {
	return fmt.Sprintf("%stask-%d-%s", l.Config.BranchPrefix, taskID, Slugify(title))
}

func (l Lifecycle) isWorkTree(ctx context.Context, repoPath string) bool {
	_, err := l.Git.Run(ctx, repoPath, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Pre positions the repository on the task's branch before the provider
// runs. With auto-branch off it only records the current branch.
func (l Lifecycle) Pre(ctx context.Context, task domain.Task) domain.GitResult {
	var result domain.GitResult
	if !l.Config.Enabled {
		return result
	}
	if !l.isWorkTree(ctx, task.RepoPath) {
		result.Log = "Not a git repo; skipping git operations."
		return result
	}
	if !l.Config.AutoBranch {
		out, err := l.Git.Run(ctx, task.RepoPath, "rev-parse", "--abbrev-ref", "HEAD")
		if err == nil {
			result.BranchName = strings.TrimSpace(out)
		}
		return result
	}

	branch := l.BranchName(task.ID, task.Title)
	result.BranchName = branch
	if _, err := l.Git.Run(ctx, task.RepoPath, "rev-parse", "--verify", branch); err == nil {
		if _, err := l.Git.Run(ctx, task.RepoPath, "checkout", branch); err != nil {
			result.Log = fmt.Sprintf("Checkout failed: %v", err)
			return result
		}
	} else {
		if _, err := l.Git.Run(ctx, task.RepoPath, "checkout", "-b", branch); err != nil {
			result.Log = fmt.Sprintf("Branch create failed: %v", err)
			return result
		}
	}
	result.Log = fmt.Sprintf("Checked out branch %s", branch)
	return result
}

// Post stages, commits, and optionally pushes whatever the run produced.
func (l Lifecycle) Post(ctx context.Context, task domain.Task, branchName string) domain.GitResult {
	result := domain.GitResult{BranchName: branchName}
	if !l.Config.Enabled {
		return result
	}
	if !l.isWorkTree(ctx, task.RepoPath) {
		result.Log = "Not a git repo; skipping post-task git."
		return result
	}
	if !l.Config.AutoCommit {
		return result
	}

	status, err := l.Git.Run(ctx, task.RepoPath, "status", "--porcelain")
	if err != nil || strings.TrimSpace(status) == "" {
		result.Log = "No changes to commit."
		return result
	}

	if _, err := l.Git.Run(ctx, task.RepoPath, "add", "-A"); err != nil {
		result.Log = fmt.Sprintf("Stage failed: %v", err)
		return result
	}
	msg := fmt.Sprintf("agent: task %d %s", task.ID, task.Title)
	if _, err := l.Git.Run(ctx, task.RepoPath, "commit", "-m", msg); err != nil {
		result.Log = fmt.Sprintf("Commit failed: %v", err)
		return result
	}
	if rev, err := l.Git.Run(ctx, task.RepoPath, "rev-parse", "HEAD"); err == nil {
		result.CommitHash = strings.TrimSpace(rev)
	}
	result.Log = fmt.Sprintf("Committed %s", orUnknown(result.CommitHash))

	if l.Config.AutoPush && branchName != "" {
		if _, err := l.Git.Run(ctx, task.RepoPath, "push", "-u", l.Config.Remote, branchName); err != nil {
			result.Log += fmt.Sprintf("; push failed: %v", err)
		} else {
			result.PushOK = true
			result.Log += fmt.Sprintf("; pushed to %s/%s", l.Config.Remote, branchName)
		}
	}
	return result
}

func orUnknown(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
