package server

// CreateTaskRequest is the enqueue payload.
type CreateTaskRequest struct {
	Title             string  `json:"title"`
	RepoPath          string  `json:"repo_path"`
	Request           string  `json:"request"`
	Constraints       *string `json:"constraints,omitempty"`
	Acceptance        *string `json:"acceptance,omitempty"`
	PreferredProvider string  `json:"preferred_provider,omitempty"`
	DependsOnTaskID   *int64  `json:"depends_on_task_id,omitempty"`
	Priority          int     `json:"priority,omitempty"`
	RunAfter          *string `json:"run_after,omitempty" format:"date-time"`
}
