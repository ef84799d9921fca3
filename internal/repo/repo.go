package repo

import (
	"maps"
	"slices"
)

// Record describes a single repository as reported by a source.
// Records produced from a local directory listing carry only a Name.
type Record struct {
	Name          string `json:"name"`
	RemoteURL     string `json:"remote_url,omitempty"`
	DefaultBranch string `json:"default_branch,omitempty"`
}

// Set maps repository names to their records
type Set map[string]Record

// NewSet builds a Set from records. Later records win on duplicate names.
func NewSet(records ...Record) Set {
	s := make(Set, len(records))
	for _, r := range records {
		s[r.Name] = r
	}
	return s
}

// Has reports whether name is present in the set
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the repository names in lexical order
func (s Set) Names() []string {
	return slices.Sorted(maps.Keys(s))
}

// Partition is the three-way split of two sets by name
type Partition struct {
	// Matching holds names present on both sides, with the remote record.
	Matching Set `json:"matching"`
	// MissingLocally holds names present only remotely.
	MissingLocally Set `json:"missing_locally"`
	// MissingRemotely holds names present only locally.
	MissingRemotely Set `json:"missing_remotely"`
}
