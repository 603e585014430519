package gitops_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/gitops"
)

// fakeGit scripts responses per subcommand and records invocations.
type fakeGit struct {
	responses map[string]string
	failures  map[string]error
	calls     []string
}

func newFakeGit() *fakeGit {
	return &fakeGit{responses: map[string]string{}, failures: map[string]error{}}
}

func (f *fakeGit) Run(ctx context.Context, repoPath string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err, ok := f.failures[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func (f *fakeGit) called(key string) bool {
	for _, c := range f.calls {
		if c == key {
			return true
		}
	}
	return false
}

func enabledConfig() config.GitConfig {
	return config.GitConfig{
		Enabled:      true,
		AutoBranch:   true,
		AutoCommit:   true,
		Remote:       "origin",
		BranchPrefix: "agent/",
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Fix the build", "fix-the-build"},
		{"  Weird---chars!!  ", "weird-chars"},
		{"UPPER Case", "upper-case"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
		{"trailing-hyphen-" + strings.Repeat("x", 60), "trailing-hyphen-" + strings.Repeat("x", 34)},
	}
	for _, c := range cases {
		if got := gitops.Slugify(c.in); got != c.want {
			t.Fatalf("Slugify(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBranchName(t *testing.T) {
	l := gitops.Lifecycle{Config: enabledConfig()}
	got := l.BranchName(42, "Fix the build")
	if got != "agent/task-42-fix-the-build" {
		t.Fatalf("branch = %q", got)
	}
	// Deterministic across calls.
	if l.BranchName(42, "Fix the build") != got {
		t.Fatal("branch name not deterministic")
	}
}

func TestPreCreatesBranch(t *testing.T) {
	git := newFakeGit()
	git.failures["rev-parse --verify agent/task-1-fix"] = fmt.Errorf("unknown revision")
	l := gitops.Lifecycle{Config: enabledConfig(), Git: git}

	result := l.Pre(context.Background(), domain.Task{ID: 1, Title: "fix", RepoPath: "/repo"})
	if result.BranchName != "agent/task-1-fix" {
		t.Fatalf("branch = %q", result.BranchName)
	}
	if !git.called("checkout -b agent/task-1-fix") {
		t.Fatalf("calls = %v", git.calls)
	}
}

func TestPreReusesExistingBranch(t *testing.T) {
	git := newFakeGit()
	l := gitops.Lifecycle{Config: enabledConfig(), Git: git}

	result := l.Pre(context.Background(), domain.Task{ID: 1, Title: "fix", RepoPath: "/repo"})
	if result.BranchName != "agent/task-1-fix" {
		t.Fatalf("branch = %q", result.BranchName)
	}
	if !git.called("checkout agent/task-1-fix") || git.called("checkout -b agent/task-1-fix") {
		t.Fatalf("calls = %v", git.calls)
	}
}

func TestPreDisabled(t *testing.T) {
	git := newFakeGit()
	l := gitops.Lifecycle{Config: config.GitConfig{Enabled: false}, Git: git}
	result := l.Pre(context.Background(), domain.Task{ID: 1, Title: "fix", RepoPath: "/repo"})
	if result.BranchName != "" || len(git.calls) != 0 {
		t.Fatalf("result = %+v calls = %v", result, git.calls)
	}
}

func TestPreNotARepo(t *testing.T) {
	git := newFakeGit()
	git.failures["rev-parse --is-inside-work-tree"] = fmt.Errorf("not a git repository")
	l := gitops.Lifecycle{Config: enabledConfig(), Git: git}
	result := l.Pre(context.Background(), domain.Task{ID: 1, Title: "fix", RepoPath: "/tmp"})
	if result.BranchName != "" {
		t.Fatalf("branch = %q, want empty", result.BranchName)
	}
	if !strings.Contains(result.Log, "Not a git repo") {
		t.Fatalf("log = %q", result.Log)
	}
}

func TestPreRecordsCurrentBranchWhenAutoBranchOff(t *testing.T) {
	git := newFakeGit()
	git.responses["rev-parse --abbrev-ref HEAD"] = "main\n"
	cfg := enabledConfig()
	cfg.AutoBranch = false
	l := gitops.Lifecycle{Config: cfg, Git: git}
	result := l.Pre(context.Background(), domain.Task{ID: 1, Title: "fix", RepoPath: "/repo"})
	if result.BranchName != "main" {
		t.Fatalf("branch = %q, want main", result.BranchName)
	}
	if git.called("checkout -b agent/task-1-fix") {
		t.Fatalf("calls = %v", git.calls)
	}
}

func TestPostCommitsAndRecordsHash(t *testing.T) {
	git := newFakeGit()
	git.responses["status --porcelain"] = " M file.go\n"
	git.responses["rev-parse HEAD"] = "abc123\n"
	l := gitops.Lifecycle{Config: enabledConfig(), Git: git}

	result := l.Post(context.Background(), domain.Task{ID: 7, Title: "fix build", RepoPath: "/repo"}, "agent/task-7-fix-build")
	if result.CommitHash != "abc123" {
		t.Fatalf("commit = %q", result.CommitHash)
	}
	if !git.called("add -A") || !git.called("commit -m agent: task 7 fix build") {
		t.Fatalf("calls = %v", git.calls)
	}
	if result.PushOK {
		t.Fatal("push should be off by default")
	}
}

func TestPostNoChanges(t *testing.T) {
	git := newFakeGit()
	git.responses["status --porcelain"] = "\n"
	l := gitops.Lifecycle{Config: enabledConfig(), Git: git}

	result := l.Post(context.Background(), domain.Task{ID: 7, Title: "fix", RepoPath: "/repo"}, "agent/task-7-fix")
	if result.CommitHash != "" {
		t.Fatalf("commit = %q, want empty", result.CommitHash)
	}
	if git.called("add -A") {
		t.Fatalf("calls = %v", git.calls)
	}
	if !strings.Contains(result.Log, "No changes") {
		t.Fatalf("log = %q", result.Log)
	}
}

func TestPostPush(t *testing.T) {
	git := newFakeGit()
	git.responses["status --porcelain"] = " M file.go\n"
	git.responses["rev-parse HEAD"] = "abc123\n"
	cfg := enabledConfig()
	cfg.AutoPush = true
	l := gitops.Lifecycle{Config: cfg, Git: git}

	result := l.Post(context.Background(), domain.Task{ID: 7, Title: "fix", RepoPath: "/repo"}, "agent/task-7-fix")
	if !result.PushOK {
		t.Fatalf("result = %+v", result)
	}
	if !git.called("push -u origin agent/task-7-fix") {
		t.Fatalf("calls = %v", git.calls)
	}
}

func TestPostPushFailureDegrades(t *testing.T) {
	git := newFakeGit()
	git.responses["status --porcelain"] = " M file.go\n"
	git.responses["rev-parse HEAD"] = "abc123\n"
	git.failures["push -u origin agent/task-7-fix"] = fmt.Errorf("remote unreachable")
	cfg := enabledConfig()
	cfg.AutoPush = true
	l := gitops.Lifecycle{Config: cfg, Git: git}

	result := l.Post(context.Background(), domain.Task{ID: 7, Title: "fix", RepoPath: "/repo"}, "agent/task-7-fix")
	if result.PushOK {
		t.Fatal("push should have failed")
	}
	if result.CommitHash != "abc123" {
		t.Fatalf("commit = %q, commit should survive push failure", result.CommitHash)
	}
	if !strings.Contains(result.Log, "push failed") {
		t.Fatalf("log = %q", result.Log)
	}
}
