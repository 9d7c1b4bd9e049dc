package version

import (
	"context"

	"github.com/schaermu/templatesync/internal/git"
)

// GitRemote answers ref queries with git ls-remote against repositories
// below a base URL.
type GitRemote struct {
	client  git.Client
	baseURL string
}

// NewGitRemote creates a Remote that addresses upstream as baseURL/owner/repo.
func NewGitRemote(client git.Client, baseURL string) *GitRemote {
	return &GitRemote{client: client, baseURL: baseURL}
}

func (g *GitRemote) ListTags(ctx context.Context, upstream string) ([]string, error) {
	return g.client.ListTags(ctx, git.RepoURL(g.baseURL, upstream))
}

func (g *GitRemote) DefaultBranch(ctx context.Context, upstream string) (string, string, error) {
	return g.client.DefaultBranch(ctx, git.RepoURL(g.baseURL, upstream))
}

func (g *GitRemote) ResolveBranch(ctx context.Context, upstream, branch string) (string, error) {
	return g.client.ResolveBranch(ctx, git.RepoURL(g.baseURL, upstream), branch)
}
