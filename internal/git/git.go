package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Strategy selects how pull integrates upstream changes
type Strategy string

const (
	StrategyRebase Strategy = "rebase"
	StrategyMerge  Strategy = "merge"
)

// ErrTimeout is wrapped by errors from git invocations that exceeded the
// configured per-command timeout.
var ErrTimeout = errors.New("git command timed out")

// StashEntry is one line of `git stash list`
type StashEntry struct {
	Ref     string // e.g. stash@{0}
	Message string
}

// Client provides the git operations needed to mirror a set of repositories.
// All methods operate on a single working copy and must not be called
// concurrently for the same directory.
type Client interface {
	// Clone clones url into destDir
	Clone(ctx context.Context, url, destDir string) error
	// Status returns the lines of `git status --porcelain`; none means clean
	Status(ctx context.Context, dir string) ([]string, error)
	// Pull pulls the tracked upstream branch using the given strategy
	Pull(ctx context.Context, dir string, strategy Strategy) error
	// StashPush stashes the working tree changes, untracked files included,
	// under the given message. It reports whether a stash entry was created.
	StashPush(ctx context.Context, dir, message string) (bool, error)
	// StashPop restores the most recent stash and drops it on success
	StashPop(ctx context.Context, dir string) error
	// StashList returns the stash entries, most recent first
	StashList(ctx context.Context, dir string) ([]StashEntry, error)
	// StashApply applies the given stash without dropping it
	StashApply(ctx context.Context, dir, ref string) error
}

// ExecError describes a failed git invocation
type ExecError struct {
	Args   []string
	Err    error
	Stdout string
	Stderr string
}

func (e *ExecError) Error() string {
	b := new(strings.Builder)
	b.WriteString("git ")
	b.WriteString(strings.Join(e.Args, " "))
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	gitPath string
	timeout time.Duration
}

// NewShellClient creates a new git client that uses the git command.
// A positive timeout bounds every single git invocation.
func NewShellClient(timeout time.Duration) *ShellClient {
	return &ShellClient{
		gitPath: "git",
		timeout: timeout,
	}
}

// Clone clones url into destDir, creating the parent directory if needed
func (c *ShellClient) Clone(ctx context.Context, url, destDir string) error {
	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	_, err := c.run(ctx, "", "clone", url, destDir)
	return err
}

// Status runs `git status --porcelain` and returns its non-empty lines
func (c *ShellClient) Status(ctx context.Context, dir string) ([]string, error) {
	out, err := c.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Pull runs `git pull --rebase` or, for the merge strategy, `git pull --no-rebase`
func (c *ShellClient) Pull(ctx context.Context, dir string, strategy Strategy) error {
	var flag string
	switch strategy {
	case StrategyRebase:
		flag = "--rebase"
	case StrategyMerge:
		flag = "--no-rebase"
	default:
		return fmt.Errorf("unknown pull strategy %q", strategy)
	}

	_, err := c.run(ctx, dir, "pull", flag)
	return err
}

// StashPush runs `git stash push --include-untracked -m <message>`.
// git exits 0 without creating an entry when there is nothing it can stash
// (dirty submodules, for example), so creation is detected by comparing the
// stash tip before and after the push.
func (c *ShellClient) StashPush(ctx context.Context, dir, message string) (bool, error) {
	before := c.stashTip(ctx, dir)
	if _, err := c.run(ctx, dir, "stash", "push", "--include-untracked", "-m", message); err != nil {
		return false, err
	}
	after := c.stashTip(ctx, dir)
	return after != "" && after != before, nil
}

// stashTip returns the commit refs/stash points to, or "" without stashes
func (c *ShellClient) stashTip(ctx context.Context, dir string) string {
	out, err := c.run(ctx, dir, "rev-parse", "-q", "--verify", "refs/stash")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// StashPop runs `git stash pop`. A conflicting pop fails and leaves the
// entry in the stash list.
func (c *ShellClient) StashPop(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, "stash", "pop")
	return err
}

// StashList runs `git stash list`
func (c *ShellClient) StashList(ctx context.Context, dir string) ([]StashEntry, error) {
	out, err := c.run(ctx, dir, "stash", "list")
	if err != nil {
		return nil, err
	}
	return parseStashList(out), nil
}

// StashApply runs `git stash apply <ref>`
func (c *ShellClient) StashApply(ctx context.Context, dir, ref string) error {
	_, err := c.run(ctx, dir, "stash", "apply", ref)
	return err
}

// run executes git with args in dir and returns stdout.
// Subprocesses are detached from ctx cancellation so a running command always
// completes; only the configured timeout can kill it.
func (c *ShellClient) run(ctx context.Context, dir string, args ...string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	fullArgs := args
	if dir != "" {
		fullArgs = append([]string{"-C", dir}, args...)
	}

	cmd := exec.CommandContext(ctx, c.gitPath, fullArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, c.timeout, err)
		}
		return "", &ExecError{
			Args:   args,
			Err:    err,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
	}

	return stdout.String(), nil
}

// splitLines returns the non-empty lines of s
func splitLines(s string) []string {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseStashList parses lines of the form "stash@{0}: On main: message"
func parseStashList(s string) []StashEntry {
	var entries []StashEntry
	for _, line := range splitLines(s) {
		ref, msg, _ := strings.Cut(line, ":")
		entries = append(entries, StashEntry{
			Ref:     strings.TrimSpace(ref),
			Message: strings.TrimSpace(msg),
		})
	}
	return entries
}
