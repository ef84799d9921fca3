package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/reposyncd/internal/git"
	"github.com/schaermu/reposyncd/internal/repo"
)

// Cloner clones repositories that exist only remotely
type Cloner struct {
	git     git.Client
	root    string
	workers int
	logger  *slog.Logger
}

// NewCloner creates a Cloner placing clones under root
func NewCloner(gitClient git.Client, root string, workers int, logger *slog.Logger) *Cloner {
	if workers < 1 {
		workers = 1
	}
	return &Cloner{
		git:     gitClient,
		root:    root,
		workers: workers,
		logger:  logger,
	}
}

// CloneAll clones every record of set in name order. The first failure stops
// the batch: clones already running finish, no further clone is started and
// the *CloneError is returned.
func (c *Cloner) CloneAll(ctx context.Context, set repo.Set, report *Report) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, name := range set.Names() {
		if gctx.Err() != nil {
			break
		}
		rec := set[name]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := c.Clone(gctx, rec); err != nil {
				report.Add(Outcome{Repo: rec.Name, Kind: Failed, Err: err})
				return err
			}
			report.Add(Outcome{Repo: rec.Name, Kind: Cloned})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Clone clones a single record into root/<name>
func (c *Cloner) Clone(ctx context.Context, rec repo.Record) error {
	if rec.RemoteURL == "" {
		return &CloneError{Repo: rec.Name, Err: errors.New("no remote url")}
	}

	dest := filepath.Join(c.root, rec.Name)
	c.logger.Info("cloning repository", "repo", rec.Name, "url", rec.RemoteURL, "dest", dest)

	if err := c.git.Clone(ctx, rec.RemoteURL, dest); err != nil {
		c.logger.Error("clone failed", "repo", rec.Name, "error", err)
		return &CloneError{Repo: rec.Name, Err: err}
	}

	c.logger.Info("repository cloned", "repo", rec.Name)
	return nil
}
