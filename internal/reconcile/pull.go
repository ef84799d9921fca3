package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/reposyncd/internal/git"
	"github.com/schaermu/reposyncd/internal/repo"
)

// StashLabelPrefix starts the message of every stash created before a pull
const StashLabelPrefix = "automated_backup_"

// State is a step of the per-repository update protocol
type State int

const (
	StateInspect State = iota
	StateClean
	StateDirty
	StateStashed
	StateDone
	StateConflictPreserved
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInspect:
		return "inspect"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateStashed:
		return "stashed"
	case StateDone:
		return "done"
	case StateConflictPreserved:
		return "conflict-preserved"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// StashLabel returns the stash message used for a run at t
func StashLabel(t time.Time) string {
	return StashLabelPrefix + t.UTC().Format("02.01.2006")
}

// Syncer pulls upstream changes into existing working copies, stashing and
// restoring uncommitted local changes around the pull.
type Syncer struct {
	git      git.Client
	root     string
	strategy git.Strategy
	workers  int
	logger   *slog.Logger
	now      func() time.Time
}

// NewSyncer creates a Syncer for working copies under root
func NewSyncer(gitClient git.Client, root string, strategy git.Strategy, workers int, logger *slog.Logger) *Syncer {
	if workers < 1 {
		workers = 1
	}
	return &Syncer{
		git:      gitClient,
		root:     root,
		strategy: strategy,
		workers:  workers,
		logger:   logger,
		now:      time.Now,
	}
}

// SyncAll updates every record of set in name order and records one outcome
// per repository. A failing repository does not stop the batch; only
// cancellation of ctx stops new repositories from being started.
func (s *Syncer) SyncAll(ctx context.Context, set repo.Set, report *Report) error {
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, name := range set.Names() {
		if ctx.Err() != nil {
			break
		}
		rec := set[name]
		g.Go(func() error {
			out, _ := s.Sync(ctx, rec)
			report.Add(out)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// Sync runs the update protocol for one working copy. Git commands for the
// repository are issued strictly one after another.
//
// A stash that cannot be popped cleanly after the pull is re-applied and
// left in the stash list; this is reported as PulledWithStashConflict, not as
// an error. Any other failure aborts with a *SyncError.
func (s *Syncer) Sync(ctx context.Context, rec repo.Record) (Outcome, error) {
	dir := filepath.Join(s.root, rec.Name)
	log := s.logger.With("repo", rec.Name)

	out := Outcome{Repo: rec.Name}
	state := StateInspect
	var cause error

	for {
		log.Debug("sync state", "state", state.String())

		switch state {
		case StateInspect:
			lines, err := s.git.Status(ctx, dir)
			if err != nil {
				cause, state = err, StateAborted
				continue
			}
			if len(lines) == 0 {
				state = StateClean
			} else {
				log.Info("working copy has local changes", "changes", len(lines))
				state = StateDirty
			}

		case StateClean:
			if err := s.git.Pull(ctx, dir, s.strategy); err != nil {
				cause, state = err, StateAborted
				continue
			}
			out.Kind = PulledClean
			state = StateDone

		case StateDirty:
			label := StashLabel(s.now())
			created, err := s.git.StashPush(ctx, dir, label)
			if err != nil {
				cause, state = err, StateAborted
				continue
			}
			if !created {
				// Popping after the pull would restore an older, unrelated stash.
				log.Info("nothing stashable in local changes, pulling without stash")
				state = StateClean
				continue
			}
			log.Debug("stashed local changes", "label", label)
			state = StateStashed

		case StateStashed:
			if err := s.git.Pull(ctx, dir, s.strategy); err != nil {
				log.Warn("pull failed with local changes stashed", "error", err)
				cause, state = err, StateAborted
				continue
			}
			if err := s.git.StashPop(ctx, dir); err == nil {
				out.Kind = PulledWithStashRestored
				state = StateDone
				continue
			}
			ref, err := s.preserveStash(ctx, dir, log)
			if err != nil {
				cause, state = err, StateAborted
				continue
			}
			out.Kind = PulledWithStashConflict
			out.StashRef = ref
			state = StateConflictPreserved

		case StateDone:
			log.Info("repository updated", "outcome", out.Kind.String())
			return out, nil

		case StateConflictPreserved:
			log.Warn("stash conflicts, changes preserved; manual resolution required", "stash", out.StashRef)
			return out, nil

		case StateAborted:
			err := &SyncError{Op: "pull", Repo: rec.Name, Err: cause}
			log.Error("update failed", "error", err)
			return Outcome{Repo: rec.Name, Kind: Failed, Err: err}, err
		}
	}
}

// preserveStash re-applies the most recent stash without dropping it and
// returns its ref. The most recent entry is assumed to be the one created by
// this run.
func (s *Syncer) preserveStash(ctx context.Context, dir string, log *slog.Logger) (string, error) {
	entries, err := s.git.StashList(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("failed to list stashes: %w", err)
	}
	if len(entries) == 0 {
		return "", errors.New("stash pop failed and stash list is empty")
	}

	ref := entries[0].Ref
	if err := s.git.StashApply(ctx, dir, ref); err != nil {
		// A conflicting pop has already merged the stash into the tree and left
		// unmerged paths, so apply is expected to fail. The entry stays listed.
		log.Debug("stash apply after conflicting pop failed, changes already in working tree", "stash", ref, "error", err)
	}
	return ref, nil
}
