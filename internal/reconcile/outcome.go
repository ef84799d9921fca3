package reconcile

import (
	"cmp"
	"slices"
	"sync"

	"github.com/schaermu/reposyncd/internal/repo"
)

// OutcomeKind classifies the result of reconciling one repository
type OutcomeKind int

const (
	// Cloned means the repository was missing locally and has been cloned.
	Cloned OutcomeKind = iota
	// PulledClean means the working copy was clean and has been pulled.
	PulledClean
	// PulledWithStashRestored means local changes were stashed, the pull
	// succeeded and the stash was popped back.
	PulledWithStashRestored
	// PulledWithStashConflict means the stash could not be popped cleanly;
	// it is kept in the stash list under Outcome.StashRef.
	PulledWithStashConflict
	// Failed means clone or pull aborted; Outcome.Err holds the cause.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Cloned:
		return "cloned"
	case PulledClean:
		return "pulled"
	case PulledWithStashRestored:
		return "pulled-stash-restored"
	case PulledWithStashConflict:
		return "pulled-stash-conflict"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of reconciling a single repository
type Outcome struct {
	Repo     string
	Kind     OutcomeKind
	StashRef string
	Err      error
}

// Report collects the partition and per-repository outcomes of one run.
// It is safe for concurrent use.
type Report struct {
	Partition repo.Partition

	mu       sync.Mutex
	outcomes []Outcome
}

// NewReport creates an empty report for a planned run
func NewReport(p repo.Partition) *Report {
	return &Report{Partition: p}
}

// Add records the outcome of one repository
func (r *Report) Add(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Outcomes returns a copy of the recorded outcomes ordered by repository name
func (r *Report) Outcomes() []Outcome {
	r.mu.Lock()
	out := slices.Clone(r.outcomes)
	r.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Outcome) int {
		return cmp.Compare(a.Repo, b.Repo)
	})
	return out
}

// Count returns the number of outcomes of the given kind
func (r *Report) Count(kind OutcomeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, o := range r.outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

// Failed returns the number of repositories that could not be reconciled
func (r *Report) Failed() int {
	return r.Count(Failed)
}

// Conflicts returns the outcomes whose stash was preserved for manual resolution
func (r *Report) Conflicts() []Outcome {
	var conflicts []Outcome
	for _, o := range r.Outcomes() {
		if o.Kind == PulledWithStashConflict {
			conflicts = append(conflicts, o)
		}
	}
	return conflicts
}
