package reconcile

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/reposyncd/internal/config"
	"github.com/schaermu/reposyncd/internal/git"
	"github.com/schaermu/reposyncd/internal/repo"
)

// RemoteSource lists the repositories of a hosting account
type RemoteSource interface {
	Fetch(ctx context.Context, account string) (repo.Set, error)
}

// LocalSource lists the repository directories under the local root
type LocalSource interface {
	Fetch(ctx context.Context) (repo.Set, error)
}

// Recorder observes completed runs
type Recorder interface {
	RecordRun(report *Report, duration time.Duration, err error)
}

// Phase restricts a run to a subset of the work
type Phase int

const (
	// PhaseAll clones missing repositories and updates matching ones.
	PhaseAll Phase = iota
	// PhaseClone only clones repositories missing locally.
	PhaseClone
	// PhasePull only updates repositories present on both sides.
	PhasePull
)

// Options tune a run
type Options struct {
	DryRun   bool
	Phase    Phase
	Recorder Recorder
}

// Engine orchestrates the reconciliation process
type Engine struct {
	cfg    *config.Config
	git    git.Client
	remote RemoteSource
	local  LocalSource
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewEngine creates a new reconciliation engine
func NewEngine(cfg *config.Config, gitClient git.Client, remote RemoteSource, local LocalSource, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:    cfg,
		git:    gitClient,
		remote: remote,
		local:  local,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Plan fetches both sides concurrently and partitions them by name.
// An adapter error is returned unchanged.
func (e *Engine) Plan(ctx context.Context) (repo.Partition, error) {
	var remoteSet, localSet repo.Set

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set, err := e.remote.Fetch(gctx, e.cfg.Remote.Account)
		if err != nil {
			return err
		}
		remoteSet = set
		return nil
	})
	g.Go(func() error {
		set, err := e.local.Fetch(gctx)
		if err != nil {
			return err
		}
		localSet = set
		return nil
	})

	if err := g.Wait(); err != nil {
		return repo.Partition{}, err
	}

	e.logger.Info("listed repositories", "remote", len(remoteSet), "local", len(localSet))
	return repo.Diff(remoteSet, localSet), nil
}

// Run executes one complete reconciliation: plan, clone batch, pull batch.
//
// The clone batch stops at the first *CloneError, which Run returns after the
// pull batch has run. Pull failures never make Run fail; they are recorded as
// Failed outcomes in the report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report, err := e.run(ctx)
	if e.opts.Recorder != nil {
		e.opts.Recorder.RecordRun(report, time.Since(start), err)
	}
	return report, err
}

func (e *Engine) run(ctx context.Context) (*Report, error) {
	e.logger.Info("starting reconciliation",
		"account", e.cfg.Remote.Account,
		"root", e.cfg.Local.Root,
		"strategy", e.cfg.Sync.Strategy,
		"workers", e.cfg.Sync.Workers,
		"dry_run", e.opts.DryRun)

	partition, err := e.Plan(ctx)
	if err != nil {
		e.logger.Error("failed to list repositories", "error", err)
		return nil, err
	}

	report := NewReport(partition)

	e.logger.Info("reconciliation plan",
		"matching", len(partition.Matching),
		"missing_locally", len(partition.MissingLocally),
		"missing_remotely", len(partition.MissingRemotely))

	for _, name := range partition.MissingRemotely.Names() {
		e.logger.Info("repository exists only locally", "repo", name)
	}

	if e.opts.DryRun {
		e.logPlanDetails(partition)
		e.logger.Info("dry-run complete, no changes applied")
		return report, nil
	}

	var cloneErr error
	if e.opts.Phase != PhasePull {
		cloner := NewCloner(e.git, e.cfg.Local.Root, e.cfg.Sync.Workers, e.logger)
		cloneErr = cloner.CloneAll(ctx, partition.MissingLocally, report)
		if cloneErr != nil {
			e.logger.Error("clone batch aborted", "error", cloneErr)
		}
	}

	if e.opts.Phase != PhaseClone {
		syncer := NewSyncer(e.git, e.cfg.Local.Root, git.Strategy(e.cfg.Sync.Strategy), e.cfg.Sync.Workers, e.logger)
		syncer.now = e.now
		if err := syncer.SyncAll(ctx, partition.Matching, report); err != nil && cloneErr == nil {
			return report, err
		}
	}

	e.logger.Info("reconciliation finished",
		"cloned", report.Count(Cloned),
		"pulled", report.Count(PulledClean)+report.Count(PulledWithStashRestored),
		"conflicts", report.Count(PulledWithStashConflict),
		"failed", report.Failed())

	return report, cloneErr
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(p repo.Partition) {
	for _, name := range p.MissingLocally.Names() {
		e.logger.Info("[dry-run] would clone", "repo", name, "url", p.MissingLocally[name].RemoteURL, "dest", e.cfg.RepoDir(name))
	}
	for _, name := range p.Matching.Names() {
		e.logger.Info("[dry-run] would pull", "repo", name, "dir", e.cfg.RepoDir(name), "strategy", e.cfg.Sync.Strategy)
	}
}
