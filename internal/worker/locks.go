package worker

import "sync"

// RepoLocks hands out one mutex per repository path so two workers never
// interleave git operations on the same working tree. Constructed once
// and injected into the pool; locks are created lazily.
type RepoLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRepoLocks() *RepoLocks {
	return &RepoLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for a repository path, creating it on first use.
func (r *RepoLocks) Get(repoPath string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[repoPath]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[repoPath] = lock
	}
	return lock
}
