package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskline/internal/chain"
	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/gitops"
	"taskline/internal/notify"
	"taskline/internal/prompt"
	"taskline/internal/provider"
	"taskline/internal/store"
)

// RouterFactory builds the provider router for one repository path. The
// adapters carry the repo path as their working directory, so the router
// is rebuilt per task.
type RouterFactory func(repoPath string) provider.Router

// Pool drains the queue with N independent worker loops. Each loop is a
// straight-line blocking sequence per task: claim, pre-git, provider,
// post-git, update, chain, notify.
type Pool struct {
	Store     store.Store
	Config    *config.Config
	Events    events.Writer
	Git       gitops.Lifecycle
	Notifier  notify.Notifier
	NewRouter RouterFactory
	Locks     *RepoLocks
	Logger    *slog.Logger

	// JoinGrace bounds how long Run waits per worker after stop.
	JoinGrace time.Duration
}

// New wires a pool from config with the real provider adapters and git
// runner. Tests assemble the struct directly with fakes.
func New(s store.Store, cfg *config.Config, ev events.Writer, logger *slog.Logger) *Pool {
	return &Pool{
		Store:    s,
		Config:   cfg,
		Events:   ev,
		Git:      gitops.New(cfg.Git),
		Notifier: notify.NewTelegram(cfg.Telegram),
		NewRouter: func(repoPath string) provider.Router {
			return provider.NewRouter(
				provider.NewClaudeRunner(cfg.Provider.ClaudeCommand, repoPath),
				provider.NewCodexRunner(cfg.Provider.CodexCommand, repoPath),
			)
		},
		Locks:     NewRepoLocks(),
		Logger:    logger,
		JoinGrace: 30 * time.Second,
	}
}

// Run starts the workers and blocks until ctx is canceled and all loops
// have drained their current task or the grace period expires.
func (p *Pool) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	<-ctx.Done()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	grace := p.JoinGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace * time.Duration(workers)):
		p.logger().Warn("workers did not stop within grace period")
	}
}

// loop claims and executes tasks until stopped. The stop flag is checked
// only between tasks; a claimed task always runs to completion.
func (p *Pool) loop(ctx context.Context, workerID int) {
	log := p.logger().With("worker", workerID)
	log.Info("worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		default:
		}
		task, err := p.Store.ClaimNextTask(context.Background())
		if err != nil {
			log.Error("claim failed", "error", err)
			p.idle(ctx)
			continue
		}
		if task == nil {
			p.idle(ctx)
			continue
		}
		log.Info("claimed task", "task", task.ID, "title", task.Title)
		p.execute(*task, workerID, log)
	}
}

func (p *Pool) idle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.Config.PollInterval()):
	}
}

// ExecuteOne claims at most one task and runs it; used by tests and the
// single-shot drain path. Reports whether a task was executed.
func (p *Pool) ExecuteOne(ctx context.Context) (bool, error) {
	task, err := p.Store.ClaimNextTask(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	p.execute(*task, 0, p.logger())
	return true, nil
}

// execute runs one claimed task to completion. No failure below may
// escape: any unexpected error is recorded on the task and the loop
// continues.
func (p *Pool) execute(task domain.Task, workerID int, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("worker panic: %v", r)
			log.Error("task execution panicked", "task", task.ID, "panic", r)
			_ = p.Store.UpdateTask(context.Background(), task.ID, store.UpdateOptions{
				Status:       domain.StatusFailed,
				ProviderUsed: "none",
				LastError:    &detail,
			})
		}
	}()

	// Git operations on one working tree must not interleave; the lock
	// spans the whole pre -> provider -> post sequence.
	lock := p.Locks.Get(task.RepoPath)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()
	runID := uuid.NewString()
	_ = p.Events.Append(ctx, "task.claimed", task.ID, events.EventPayload{"run_id": runID, "worker": workerID, "attempt": task.Attempts})

	gitPre := p.Git.Pre(ctx, task)
	if gitPre.BranchName != "" {
		if err := p.Store.SetBranch(ctx, task.ID, gitPre.BranchName); err != nil {
			log.Error("record branch failed", "task", task.ID, "error", err)
		}
	}

	compiled := prompt.Compile(task)
	router := p.NewRouter(task.RepoPath)
	result, success := router.Run(ctx, compiled.Text)

	gitPost := p.Git.Post(ctx, task, gitPre.BranchName)

	status := domain.StatusDone
	var lastError *string
	if !success {
		status = domain.StatusFailed
		msg := "Provider failed"
		if provider.IsStdinTTYError(result.Logs) {
			msg = "Provider failed: interactive stdin required"
		}
		lastError = &msg
	}
	update := store.UpdateOptions{
		Status:       status,
		ProviderUsed: result.Provider,
		Logs:         optional(result.Logs),
		LastError:    lastError,
	}
	if gitPre.BranchName != "" {
		update.BranchName = &gitPre.BranchName
	}
	if gitPost.CommitHash != "" {
		update.CommitHash = &gitPost.CommitHash
	}
	if err := p.Store.UpdateTask(ctx, task.ID, update); err != nil {
		log.Error("record result failed", "task", task.ID, "error", err)
	}
	_ = p.Events.Append(ctx, "task.finished", task.ID, events.EventPayload{
		"run_id": runID, "worker": workerID, "status": status, "provider": result.Provider,
	})

	if success {
		specs := chain.Parse(result.Logs)
		if len(specs) > 0 {
			created, err := chain.Enqueue(ctx, p.Store, task, task.ChainGroup(), specs)
			if err != nil {
				log.Error("enqueue follow-ups failed", "task", task.ID, "error", err)
			}
			if len(created) > 0 {
				log.Info("enqueued follow-ups", "task", task.ID, "created", created)
				_ = p.Events.Append(ctx, "followup.enqueued", task.ID, events.EventPayload{"run_id": runID, "created": created})
			}
		}
	}

	message := p.buildMessage(task, status, result, gitPre, gitPost, workerID)
	if res := p.Notifier.Send(ctx, message); !res.OK {
		log.Debug("notification not delivered", "task", task.ID, "reason", res.Message)
	}
	log.Info("task finished", "task", task.ID, "status", status, "provider", result.Provider)
}

// buildMessage renders the notification content: id, title, final status,
// provider, bounded summary, and git outcome when present.
func (p *Pool) buildMessage(task domain.Task, status string, result domain.ProviderResult, gitPre, gitPost domain.GitResult, workerID int) string {
	summary := prompt.SummarizeLogs(result.Logs, p.Config.Queue.SummaryLimit)
	var git strings.Builder
	if gitPre.BranchName != "" {
		fmt.Fprintf(&git, "\nBranch: %s", gitPre.BranchName)
	}
	if gitPost.CommitHash != "" {
		fmt.Fprintf(&git, "\nCommit: %s", gitPost.CommitHash)
	}
	if gitPost.PushOK {
		fmt.Fprintf(&git, "\nPushed: %s/%s", p.Config.Git.Remote, gitPre.BranchName)
	}
	return fmt.Sprintf("Task %d: %s\nStatus: %s\nProvider: %s\nWorker: %d\nSummary: %s%s\nTask ID: %d",
		task.ID, task.Title, status, result.Provider, workerID, summary, git.String(), task.ID)
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
