package local

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/schaermu/reposyncd/internal/repo"
)

// ListError is returned when the local root cannot be enumerated
type ListError struct {
	Root string
	Err  error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("failed to list local repositories in %s: %v", e.Root, e.Err)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// Source lists the repository directories under a root
type Source struct {
	root string
	fs   billy.Filesystem
}

// NewSource returns a Source reading the given root directory from disk
func NewSource(root string) *Source {
	return NewSourceFS(root, osfs.New(root))
}

// NewSourceFS returns a Source reading entries from fs, which must be rooted
// at root. root is used for error reporting only.
func NewSourceFS(root string, fs billy.Filesystem) *Source {
	return &Source{root: root, fs: fs}
}

// Root returns the directory the source lists
func (s *Source) Root() string {
	return s.root
}

// Fetch returns one record per entry in the root. Entries are not checked for
// being git working copies.
func (s *Source) Fetch(_ context.Context) (repo.Set, error) {
	entries, err := s.fs.ReadDir("/")
	if err != nil {
		return nil, &ListError{Root: s.root, Err: err}
	}

	set := make(repo.Set, len(entries))
	for _, entry := range entries {
		set[entry.Name()] = repo.Record{Name: entry.Name()}
	}
	return set, nil
}
