//go:build integration

package tier1

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/reposyncd/internal/reconcile"
)

func outcomeOf(t *testing.T, report *reconcile.Report, name string) reconcile.Outcome {
	t.Helper()
	for _, o := range report.Outcomes() {
		if o.Repo == name {
			return o
		}
	}
	t.Fatalf("no outcome recorded for %s", name)
	return reconcile.Outcome{}
}

func TestTier1Reconcile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.AddUpstream("alpha")
	h.AddUpstream("beta")

	// A directory that exists only locally must never be touched.
	scratch := filepath.Join(h.Root, "scratch")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(scratch, "notes.txt"), []byte("keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("InitialClone", func(t *testing.T) {
		report, err := h.Run(ctx, reconcile.Options{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		for _, name := range []string{"alpha", "beta"} {
			if o := outcomeOf(t, report, name); o.Kind != reconcile.Cloned {
				t.Errorf("%s: expected cloned, got %s (%v)", name, o.Kind, o.Err)
			}
			if got := h.ReadFile(name, "README.md"); got != "# "+name+"\n" {
				t.Errorf("%s: unexpected README %q", name, got)
			}
			h.PrepareClone(name)
		}

		if !report.Partition.MissingRemotely.Has("scratch") {
			t.Error("expected scratch to be reported as local only")
		}
	})

	t.Run("CleanPull", func(t *testing.T) {
		h.Commit("alpha", "CHANGELOG.md", "v1\n", "Add changelog")

		report, err := h.Run(ctx, reconcile.Options{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		if o := outcomeOf(t, report, "alpha"); o.Kind != reconcile.PulledClean {
			t.Errorf("expected pulled, got %s (%v)", o.Kind, o.Err)
		}
		if !h.FileExists("alpha", "CHANGELOG.md") {
			t.Error("expected upstream commit to be pulled")
		}
	})

	t.Run("StashRestored", func(t *testing.T) {
		h.WriteFile("alpha", "README.md", "# alpha\nlocal edit\n")
		h.Commit("alpha", "other.txt", "upstream\n", "Add other")

		report, err := h.Run(ctx, reconcile.Options{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		if o := outcomeOf(t, report, "alpha"); o.Kind != reconcile.PulledWithStashRestored {
			t.Fatalf("expected pulled-stash-restored, got %s (%v)", o.Kind, o.Err)
		}
		if got := h.ReadFile("alpha", "README.md"); got != "# alpha\nlocal edit\n" {
			t.Errorf("local edit lost: %q", got)
		}
		if !h.FileExists("alpha", "other.txt") {
			t.Error("expected upstream commit to be pulled")
		}
		if out := h.MustGit(h.LocalDir("alpha"), "stash", "list"); strings.TrimSpace(out) != "" {
			t.Errorf("expected empty stash list, got:\n%s", out)
		}
	})

	t.Run("StashConflictPreserved", func(t *testing.T) {
		h.WriteFile("beta", "README.md", "# beta\nlocal version\n")
		h.Commit("beta", "README.md", "# beta\nupstream version\n", "Rewrite README")

		report, err := h.Run(ctx, reconcile.Options{})
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		o := outcomeOf(t, report, "beta")
		if o.Kind != reconcile.PulledWithStashConflict {
			t.Fatalf("expected pulled-stash-conflict, got %s (%v)", o.Kind, o.Err)
		}
		if o.StashRef != "stash@{0}" {
			t.Errorf("expected stash@{0}, got %q", o.StashRef)
		}

		out := h.MustGit(h.LocalDir("beta"), "stash", "list")
		if !strings.Contains(out, reconcile.StashLabelPrefix) {
			t.Errorf("expected preserved stash in list, got:\n%s", out)
		}

		// The other repository is unaffected by the conflict.
		if o := outcomeOf(t, report, "alpha"); o.Kind == reconcile.Failed {
			t.Errorf("alpha failed: %v", o.Err)
		}
	})

	t.Run("LocalOnlyUntouched", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(scratch, "notes.txt"))
		if err != nil || string(data) != "keep\n" {
			t.Errorf("local-only directory modified: %q, %v", data, err)
		}
		if _, err := os.Stat(filepath.Join(scratch, ".git")); !os.IsNotExist(err) {
			t.Error("local-only directory was turned into a repository")
		}
	})
}

func TestTier1CloneFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.AddUpstream("alpha")

	if _, err := h.Run(ctx, reconcile.Options{Phase: reconcile.PhaseClone}); err != nil {
		t.Fatalf("initial clone: %v", err)
	}

	h.AddUnreachable("ghost")
	h.Commit("alpha", "new.txt", "x\n", "Add new")

	report, err := h.Run(ctx, reconcile.Options{})

	var cloneErr *reconcile.CloneError
	if !errors.As(err, &cloneErr) {
		t.Fatalf("expected *CloneError, got %v", err)
	}
	if cloneErr.Repo != "ghost" {
		t.Errorf("expected ghost to be named, got %q", cloneErr.Repo)
	}
	if !strings.Contains(err.Error(), "git 'clone' failed for 'ghost'") {
		t.Errorf("unexpected message: %v", err)
	}

	// The pull batch still ran.
	if o := outcomeOf(t, report, "alpha"); o.Kind != reconcile.PulledClean {
		t.Errorf("expected alpha to be pulled, got %s (%v)", o.Kind, o.Err)
	}
}

func TestTier1DryRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.AddUpstream("alpha")

	report, err := h.Run(ctx, reconcile.Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry-run: %v", err)
	}
	if !report.Partition.MissingLocally.Has("alpha") {
		t.Error("expected alpha to be planned for clone")
	}

	entries, err := os.ReadDir(h.Root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("dry-run created %d entries", len(entries))
	}
}

func TestTier1UntrackedOnlyKeepsOlderStash(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.AddUpstream("alpha")

	if _, err := h.Run(ctx, reconcile.Options{Phase: reconcile.PhaseClone}); err != nil {
		t.Fatalf("initial clone: %v", err)
	}
	h.PrepareClone("alpha")

	// A stash preserved by an earlier run.
	h.WriteFile("alpha", "README.md", "# alpha\nold preserved work\n")
	h.MustGit(h.LocalDir("alpha"), "stash", "push", "-m", "automated_backup_01.01.2026")

	h.WriteFile("alpha", "notes.txt", "draft\n")
	h.Commit("alpha", "other.txt", "upstream\n", "Add other")

	report, err := h.Run(ctx, reconcile.Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if o := outcomeOf(t, report, "alpha"); o.Kind != reconcile.PulledWithStashRestored {
		t.Fatalf("expected pulled-stash-restored, got %s (%v)", o.Kind, o.Err)
	}
	if got := h.ReadFile("alpha", "notes.txt"); got != "draft\n" {
		t.Errorf("untracked file lost: %q", got)
	}
	if got := h.ReadFile("alpha", "README.md"); got != "# alpha\n" {
		t.Errorf("older stash leaked into the working tree: %q", got)
	}
	if !h.FileExists("alpha", "other.txt") {
		t.Error("expected upstream commit to be pulled")
	}

	out := strings.TrimSpace(h.MustGit(h.LocalDir("alpha"), "stash", "list"))
	if strings.Count(out, "\n") != 0 || !strings.Contains(out, "automated_backup_01.01.2026") {
		t.Errorf("expected only the older stash to remain, got:\n%s", out)
	}
}
