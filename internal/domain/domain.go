package domain

// ISOFormat is the timestamp layout stored in the database. It sorts
// lexicographically, which claim ordering relies on.
const ISOFormat = "2006-01-02T15:04:05Z"

// Task statuses.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

type Task struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	RepoPath          string  `json:"repo_path"`
	Request           string  `json:"request"`
	Constraints       *string `json:"constraints,omitempty"`
	Acceptance        *string `json:"acceptance,omitempty"`
	PreferredProvider string  `json:"preferred_provider"`
	Status            string  `json:"status" enum:"queued,running,done,failed,canceled"`
	ProviderUsed      string  `json:"provider_used"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	StartedAt         *string `json:"started_at,omitempty" format:"date-time"`
	FinishedAt        *string `json:"finished_at,omitempty" format:"date-time"`
	Attempts          int     `json:"attempts"`
	LastError         *string `json:"last_error,omitempty"`
	Logs              *string `json:"logs,omitempty"`
	ParentTaskID      *int64  `json:"parent_task_id,omitempty"`
	ChainGroupID      *int64  `json:"chain_group_id,omitempty"`
	DependsOnTaskID   *int64  `json:"depends_on_task_id,omitempty"`
	Priority          int     `json:"priority"`
	RunAfter          *string `json:"run_after,omitempty" format:"date-time"`
	BranchName        *string `json:"branch_name,omitempty"`
	CommitHash        *string `json:"commit_hash,omitempty"`
}

// ChainGroup returns the chain group the task belongs to; a task that was
// never chained is its own root.
func (t Task) ChainGroup() int64 {
	if t.ChainGroupID != nil {
		return *t.ChainGroupID
	}
	return t.ID
}

// FollowupSpec is one follow-up task extracted from run output.
type FollowupSpec struct {
	Title       string `json:"title"`
	Request     string `json:"request"`
	RepoPath    string `json:"repo_path,omitempty"`
	Constraints string `json:"constraints,omitempty"`
	Acceptance  string `json:"acceptance,omitempty"`
	DependsOn   string `json:"depends_on,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// ProviderResult is the uniform outcome of one backend invocation, shared
// by every adapter.
type ProviderResult struct {
	Provider string `json:"provider"`
	ExitCode int    `json:"exit_code"`
	Logs     string `json:"logs"`
}

// GitResult reports the outcome of a pre- or post-run git phase. Failures
// show up in Log, never as errors.
type GitResult struct {
	BranchName string `json:"branch_name,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
	PushOK     bool   `json:"push_ok"`
	Log        string `json:"log,omitempty"`
}

type Event struct {
	ID      string `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	TaskID  *int64 `json:"task_id,omitempty"`
	Payload string `json:"payload_json"`
}
