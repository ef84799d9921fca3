package reconcile

import "fmt"

// CloneError reports a failed clone. It aborts the remaining clone batch.
type CloneError struct {
	Repo string
	Err  error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("git 'clone' failed for '%s': %v", e.Repo, e.Err)
}

func (e *CloneError) Unwrap() error {
	return e.Err
}

// SyncError reports an aborted update of one working copy. Other
// repositories in the same batch are still processed.
type SyncError struct {
	Op   string
	Repo string
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("git '%s' failed for '%s': %v", e.Op, e.Repo, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
