package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v84/github"

	"github.com/schaermu/reposyncd/internal/repo"
)

// CloneProtocol selects which clone URL of a repository is recorded
type CloneProtocol string

const (
	ProtocolGit   CloneProtocol = "git"
	ProtocolHTTPS CloneProtocol = "https"
	ProtocolSSH   CloneProtocol = "ssh"
)

// ListError is returned when the hosting API answers with a non-success status
type ListError struct {
	Status     int
	StatusText string
	Err        error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("GitHub API Response: %d %s", e.Status, e.StatusText)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// Source lists the repositories of a GitHub account
type Source struct {
	client   *github.Client
	protocol CloneProtocol
}

// NewSource creates a Source talking to apiURL (the public GitHub API when
// empty) with the given HTTP client (http.DefaultClient when nil).
func NewSource(apiURL string, protocol CloneProtocol, httpClient *http.Client) (*Source, error) {
	client := github.NewClient(httpClient)

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid api url %q: %w", apiURL, err)
		}
		client.BaseURL = u
	}

	if protocol == "" {
		protocol = ProtocolGit
	}

	return &Source{client: client, protocol: protocol}, nil
}

// Fetch returns all repositories owned by account, following pagination
func (s *Source) Fetch(ctx context.Context, account string) (repo.Set, error) {
	opts := &github.RepositoryListByUserOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	set := make(repo.Set)
	for {
		repos, resp, err := s.client.Repositories.ListByUser(ctx, account, opts)
		if err != nil {
			if resp != nil && resp.Response != nil && !isSuccess(resp.StatusCode) {
				return nil, &ListError{
					Status:     resp.StatusCode,
					StatusText: http.StatusText(resp.StatusCode),
					Err:        err,
				}
			}
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}

		for _, r := range repos {
			set[r.GetName()] = repo.Record{
				Name:          r.GetName(),
				RemoteURL:     s.cloneURL(r),
				DefaultBranch: r.GetDefaultBranch(),
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return set, nil
}

// cloneURL picks the URL matching the configured protocol
func (s *Source) cloneURL(r *github.Repository) string {
	switch s.protocol {
	case ProtocolHTTPS:
		return r.GetCloneURL()
	case ProtocolSSH:
		return r.GetSSHURL()
	default:
		return r.GetGitURL()
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
