//go:build integration

package tier1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/reposyncd/internal/config"
	"github.com/schaermu/reposyncd/internal/git"
	"github.com/schaermu/reposyncd/internal/local"
	"github.com/schaermu/reposyncd/internal/reconcile"
	"github.com/schaermu/reposyncd/internal/remote"
)

const (
	account        = "octocat"
	defaultTimeout = 2 * time.Minute
)

// Harness wires the real git client, both adapters and a fake GitHub API
// around a set of bare upstream repositories.
type Harness struct {
	t *testing.T

	// Upstreams holds one bare repository per remote name.
	Upstreams string
	// Seed holds a working clone per upstream used to push commits.
	Seed string
	// Root is the local mirror root under test.
	Root string

	mu    sync.Mutex
	repos []string
	api   *httptest.Server
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	base := t.TempDir()
	h := &Harness{
		t:         t,
		Upstreams: filepath.Join(base, "upstreams"),
		Seed:      filepath.Join(base, "seed"),
		Root:      filepath.Join(base, "root"),
	}
	for _, dir := range []string{h.Upstreams, h.Seed, h.Root} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	h.api = httptest.NewServer(http.HandlerFunc(h.serveRepos))
	t.Cleanup(h.api.Close)

	return h
}

// serveRepos answers GET /users/<account>/repos with every added upstream
func (h *Harness) serveRepos(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/users/"+account+"/repos" {
		http.NotFound(w, r)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	type repoJSON struct {
		Name          string `json:"name"`
		CloneURL      string `json:"clone_url"`
		DefaultBranch string `json:"default_branch"`
	}
	items := make([]repoJSON, 0, len(h.repos))
	for _, name := range h.repos {
		items = append(items, repoJSON{
			Name:          name,
			CloneURL:      filepath.Join(h.Upstreams, name+".git"),
			DefaultBranch: "main",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

// AddUpstream creates a bare upstream with one commit of README.md and
// publishes it on the fake API.
func (h *Harness) AddUpstream(name string) {
	h.t.Helper()

	bare := filepath.Join(h.Upstreams, name+".git")
	h.MustGit("", "init", "--bare", "--initial-branch=main", bare)

	seed := filepath.Join(h.Seed, name)
	h.MustGit("", "clone", bare, seed)
	h.configureIdentity(seed)
	h.Commit(name, "README.md", "# "+name+"\n", "Initial commit")

	h.mu.Lock()
	h.repos = append(h.repos, name)
	h.mu.Unlock()
}

// AddUnreachable publishes a repository whose clone URL does not exist
func (h *Harness) AddUnreachable(name string) {
	h.mu.Lock()
	h.repos = append(h.repos, name)
	h.mu.Unlock()
}

// Commit writes file in the seed clone of name, commits and pushes upstream
func (h *Harness) Commit(name, file, content, msg string) {
	h.t.Helper()

	seed := filepath.Join(h.Seed, name)
	if err := os.WriteFile(filepath.Join(seed, file), []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}
	h.MustGit(seed, "add", file)
	h.MustGit(seed, "commit", "-m", msg)
	h.MustGit(seed, "push", "origin", "HEAD:main")
}

// LocalDir returns the working copy path of name under Root
func (h *Harness) LocalDir(name string) string {
	return filepath.Join(h.Root, name)
}

// WriteFile writes content to a file in the working copy of name
func (h *Harness) WriteFile(name, file, content string) {
	h.t.Helper()
	if err := os.WriteFile(filepath.Join(h.LocalDir(name), file), []byte(content), 0o644); err != nil {
		h.t.Fatal(err)
	}
}

// ReadFile reads a file from the working copy of name
func (h *Harness) ReadFile(name, file string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.LocalDir(name), file))
	if err != nil {
		h.t.Fatal(err)
	}
	return string(data)
}

// FileExists checks if a file exists in the working copy of name
func (h *Harness) FileExists(name, file string) bool {
	_, err := os.Stat(filepath.Join(h.LocalDir(name), file))
	return err == nil
}

// PrepareClone configures a commit identity in a freshly cloned working
// copy so stash entries can be created.
func (h *Harness) PrepareClone(name string) {
	h.t.Helper()
	h.configureIdentity(h.LocalDir(name))
}

func (h *Harness) configureIdentity(dir string) {
	h.MustGit(dir, "config", "user.email", "test@test.com")
	h.MustGit(dir, "config", "user.name", "Test")
}

// Git runs git in dir and returns stdout, stderr and the run error
func (h *Harness) Git(dir string, args ...string) (string, string, error) {
	h.t.Helper()

	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	cmd := exec.Command("git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// MustGit runs git and fails the test on error
func (h *Harness) MustGit(dir string, args ...string) string {
	h.t.Helper()
	stdout, stderr, err := h.Git(dir, args...)
	if err != nil {
		h.t.Fatalf("git %s failed: %v\nstderr: %s", strings.Join(args, " "), err, stderr)
	}
	return stdout
}

// Config returns a configuration pointing at the harness
func (h *Harness) Config() *config.Config {
	return &config.Config{
		Local: config.LocalConfig{Root: h.Root},
		Remote: config.RemoteConfig{
			Account:       account,
			APIURL:        h.api.URL,
			CloneProtocol: config.CloneHTTPS,
		},
		Sync: config.SyncConfig{
			Strategy: config.StrategyMerge,
			Workers:  2,
			Timeout:  time.Minute,
		},
	}
}

// Run performs one reconciliation against the harness
func (h *Harness) Run(ctx context.Context, opts reconcile.Options) (*reconcile.Report, error) {
	h.t.Helper()

	cfg := h.Config()
	src, err := remote.NewSource(cfg.Remote.APIURL, remote.ProtocolHTTPS, h.api.Client())
	if err != nil {
		return nil, fmt.Errorf("create remote source: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(&testWriter{t: h.t, prefix: "[reposyncd] "}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := reconcile.NewEngine(cfg, git.NewShellClient(cfg.Sync.Timeout), src, local.NewSource(cfg.Local.Root), logger, opts)

	return engine.Run(ctx)
}

// testWriter adapts t.Log for use as an io.Writer
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}
