package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/schaermu/reposyncd/internal/git"
	"github.com/schaermu/reposyncd/internal/repo"
)

// gitCall records one invocation on mockGitClient.
type gitCall struct {
	Op   string
	Repo string
	Arg  string
}

func (c gitCall) String() string {
	if c.Arg == "" {
		return c.Op + " " + c.Repo
	}
	return c.Op + " " + c.Repo + " " + c.Arg
}

// mockGitClient implements git.Client for testing. Responses are keyed by
// repository name, the last element of the directory passed in.
type mockGitClient struct {
	mu      sync.Mutex
	calls   []gitCall
	status  map[string][]string
	stashes map[string][]git.StashEntry
	errs    map[string]error // "<op> <repo>" -> error
	noStash map[string]bool  // stash push creates no entry
	onClone func(repo string)
}

func newMockGitClient() *mockGitClient {
	return &mockGitClient{
		status:  make(map[string][]string),
		stashes: make(map[string][]git.StashEntry),
		errs:    make(map[string]error),
		noStash: make(map[string]bool),
	}
}

func (m *mockGitClient) failOn(op, repo string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op+" "+repo] = err
}

func (m *mockGitClient) record(op, dir, arg string) (string, error) {
	name := filepath.Base(dir)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gitCall{Op: op, Repo: name, Arg: arg})
	return name, m.errs[op+" "+name]
}

func (m *mockGitClient) Clone(_ context.Context, url, destDir string) error {
	name, err := m.record("clone", destDir, url)
	if m.onClone != nil {
		m.onClone(name)
	}
	return err
}

func (m *mockGitClient) Status(_ context.Context, dir string) ([]string, error) {
	name, err := m.record("status", dir, "")
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[name], nil
}

func (m *mockGitClient) Pull(_ context.Context, dir string, strategy git.Strategy) error {
	_, err := m.record("pull", dir, string(strategy))
	return err
}

func (m *mockGitClient) StashPush(_ context.Context, dir, message string) (bool, error) {
	name, err := m.record("stash-push", dir, message)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noStash[name] {
		return false, nil
	}
	entries := make([]git.StashEntry, 0, len(m.stashes[name])+1)
	entries = append(entries, git.StashEntry{Ref: "stash@{0}", Message: "On main: " + message})
	for i, e := range m.stashes[name] {
		entries = append(entries, git.StashEntry{Ref: fmt.Sprintf("stash@{%d}", i+1), Message: e.Message})
	}
	m.stashes[name] = entries
	return true, nil
}

func (m *mockGitClient) StashPop(_ context.Context, dir string) error {
	name, err := m.record("stash-pop", dir, "")
	if err != nil {
		// A conflicting pop keeps the entry.
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stashes[name]) == 0 {
		return errors.New("no stash entries found")
	}
	m.stashes[name] = m.stashes[name][1:]
	return nil
}

func (m *mockGitClient) StashList(_ context.Context, dir string) ([]git.StashEntry, error) {
	name, err := m.record("stash-list", dir, "")
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.stashes[name]), nil
}

func (m *mockGitClient) StashApply(_ context.Context, dir, ref string) error {
	_, err := m.record("stash-apply", dir, ref)
	return err
}

// callsFor returns the recorded calls of one repository in issue order.
func (m *mockGitClient) callsFor(name string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Repo == name {
			out = append(out, c.String())
		}
	}
	return out
}

func (m *mockGitClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockRemote implements RemoteSource for testing.
type mockRemote struct {
	set     repo.Set
	err     error
	account string
}

func (m *mockRemote) Fetch(_ context.Context, account string) (repo.Set, error) {
	m.account = account
	return m.set, m.err
}

// mockLocal implements LocalSource for testing.
type mockLocal struct {
	set repo.Set
	err error
}

func (m *mockLocal) Fetch(_ context.Context) (repo.Set, error) {
	return m.set, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func recordSet(names ...string) repo.Set {
	s := make(repo.Set, len(names))
	for _, n := range names {
		s[n] = repo.Record{Name: n, RemoteURL: "git://github.com/octocat/" + n + ".git"}
	}
	return s
}
