package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskline/internal/domain"
)

// Store owns all reads and writes of the task table. It keeps no state of
// its own; every call hits the database.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Store {
	return Store{DB: db, Now: time.Now}
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Store) timestamp() string {
	return s.now().UTC().Format(domain.ISOFormat)
}

// NewTask are the caller-supplied fields for AddTask. Required-field
// presence is the only validation the store performs.
type NewTask struct {
	Title             string
	RepoPath          string
	Request           string
	Constraints       *string
	Acceptance        *string
	PreferredProvider string
	ParentTaskID      *int64
	ChainGroupID      *int64
	DependsOnTaskID   *int64
	Priority          int
	RunAfter          *string
}

const taskColumns = `id,title,repo_path,request,constraints,acceptance,preferred_provider,status,provider_used,created_at,started_at,finished_at,attempts,last_error,logs,parent_task_id,chain_group_id,depends_on_task_id,priority,run_after,branch_name,commit_hash`

// AddTask inserts a queued task and returns its assigned id.
func (s Store) AddTask(ctx context.Context, t NewTask) (int64, error) {
	if t.Title == "" {
		return 0, fmt.Errorf("title is required")
	}
	if t.RepoPath == "" {
		return 0, fmt.Errorf("repo_path is required")
	}
	if t.Request == "" {
		return 0, fmt.Errorf("request is required")
	}
	if t.PreferredProvider == "" {
		t.PreferredProvider = "claude_first"
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO tasks(title,repo_path,request,constraints,acceptance,preferred_provider,status,provider_used,created_at,attempts,parent_task_id,chain_group_id,depends_on_task_id,priority,run_after)
VALUES (?,?,?,?,?,?,'queued','none',?,0,?,?,?,?,?)`,
		t.Title, t.RepoPath, t.Request, nullableStringPtr(t.Constraints), nullableStringPtr(t.Acceptance), t.PreferredProvider,
		s.timestamp(), nullableInt64Ptr(t.ParentTaskID), nullableInt64Ptr(t.ChainGroupID), nullableInt64Ptr(t.DependsOnTaskID), t.Priority, nullableStringPtr(t.RunAfter))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// claimPredicate selects the next eligible queued task: not deferred by
// run_after, and not blocked on a dependency that has not reached done.
// Higher priority wins, then creation order, then id.
const claimPredicate = `status='queued'
  AND (run_after IS NULL OR run_after <= ?)
  AND (depends_on_task_id IS NULL OR EXISTS (
        SELECT 1 FROM tasks dep WHERE dep.id = tasks.depends_on_task_id AND dep.status = 'done'))`

const claimOrder = `ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`

// ClaimNextTask atomically selects and transitions the next eligible task
// to running, incrementing attempts and stamping started_at. It returns
// nil when nothing is eligible. The select and the conditional update run
// in one transaction; the status guard on the update makes a double claim
// impossible even if two claimers raced to the same row.
func (s Store) ClaimNextTask(ctx context.Context) (*domain.Task, error) {
	now := s.timestamp()
	for {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		task, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE `+claimPredicate+` `+claimOrder, now))
		if errors.Is(err, ErrNotFound) {
			tx.Rollback()
			return nil, nil
		}
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status='running', started_at=?, attempts=attempts+1 WHERE id=? AND status='queued'`,
			now, task.ID)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			// Lost the race for this row; try the next one.
			tx.Rollback()
			continue
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		task.Status = domain.StatusRunning
		task.StartedAt = &now
		task.Attempts++
		return &task, nil
	}
}

// PeekNextTask previews what ClaimNextTask would select without mutating.
func (s Store) PeekNextTask(ctx context.Context) (*domain.Task, error) {
	task, err := scanTask(s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+claimPredicate+` `+claimOrder, s.timestamp()))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateOptions are the terminal fields recorded when a run finishes.
type UpdateOptions struct {
	Status       string
	ProviderUsed string
	Logs         *string
	LastError    *string
	BranchName   *string
	CommitHash   *string
}

// UpdateTask records a run outcome and stamps finished_at. Callers only
// invoke this on a task they claimed; the store does not re-check status.
func (s Store) UpdateTask(ctx context.Context, id int64, opts UpdateOptions) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET status=?, provider_used=?, logs=?, last_error=?, branch_name=COALESCE(?, branch_name), commit_hash=COALESCE(?, commit_hash), finished_at=? WHERE id=?`,
		opts.Status, opts.ProviderUsed, nullableStringPtr(opts.Logs), nullableStringPtr(opts.LastError),
		nullableStringPtr(opts.BranchName), nullableStringPtr(opts.CommitHash), s.timestamp(), id)
	return err
}

// SetBranch records the working branch as soon as pre-run git decides it,
// so the branch is visible while the task is still running.
func (s Store) SetBranch(ctx context.Context, id int64, branch string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE tasks SET branch_name=? WHERE id=?`, branch, id)
	return err
}

// CancelTask transitions queued -> canceled. Returns whether a row changed;
// running and terminal tasks are left alone.
func (s Store) CancelTask(ctx context.Context, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE tasks SET status='canceled' WHERE id=? AND status='queued'`, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s Store) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return scanTask(s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// ListTasks returns all tasks newest first.
func (s Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListChainTasks returns every task sharing a chain group, oldest first.
func (s Store) ListChainTasks(ctx context.Context, chainGroupID int64) ([]domain.Task, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE chain_group_id=? OR id=? ORDER BY id ASC`, chainGroupID, chainGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row *sql.Row) (domain.Task, error) {
	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func scanTaskRow(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var constraints, acceptance, startedAt, finishedAt, lastError, logs, runAfter, branchName, commitHash sql.NullString
	var parentTaskID, chainGroupID, dependsOnTaskID sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &t.RepoPath, &t.Request, &constraints, &acceptance, &t.PreferredProvider,
		&t.Status, &t.ProviderUsed, &t.CreatedAt, &startedAt, &finishedAt, &t.Attempts, &lastError, &logs,
		&parentTaskID, &chainGroupID, &dependsOnTaskID, &t.Priority, &runAfter, &branchName, &commitHash)
	if err != nil {
		return t, err
	}
	t.Constraints = stringPtr(constraints)
	t.Acceptance = stringPtr(acceptance)
	t.StartedAt = stringPtr(startedAt)
	t.FinishedAt = stringPtr(finishedAt)
	t.LastError = stringPtr(lastError)
	t.Logs = stringPtr(logs)
	t.RunAfter = stringPtr(runAfter)
	t.BranchName = stringPtr(branchName)
	t.CommitHash = stringPtr(commitHash)
	t.ParentTaskID = int64Ptr(parentTaskID)
	t.ChainGroupID = int64Ptr(chainGroupID)
	t.DependsOnTaskID = int64Ptr(dependsOnTaskID)
	return t, nil
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
