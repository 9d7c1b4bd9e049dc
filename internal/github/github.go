// Package github answers upstream ref queries through the GitHub REST API.
// It is an alternative to git ls-remote when the API is preferred, for
// example to use a token with higher rate limits.
package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v66/github"

	"github.com/schaermu/templatesync/internal/git"
)

const perPage = 100

// Client implements version.Remote against the GitHub REST API.
type Client struct {
	client *gh.Client
}

// NewClient creates a client for apiURL (empty for api.github.com). A
// non-empty token authenticates the requests.
func NewClient(httpClient *http.Client, apiURL, token string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if apiURL != "" {
		base, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
		client.BaseURL = base
	}
	return &Client{client: client}, nil
}

// ListTags returns all tag names, following pagination.
func (c *Client) ListTags(ctx context.Context, upstream string) ([]string, error) {
	owner, repo, err := splitUpstream(upstream)
	if err != nil {
		return nil, err
	}

	var names []string
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		tags, resp, err := c.client.Repositories.ListTags(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(ctx, "list tags", err, git.ErrRepositoryNotFound)
		}
		for _, tag := range tags {
			names = append(names, tag.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// DefaultBranch returns the repository's default branch and its tip.
func (c *Client) DefaultBranch(ctx context.Context, upstream string) (string, string, error) {
	owner, repo, err := splitUpstream(upstream)
	if err != nil {
		return "", "", err
	}

	repository, _, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", "", classify(ctx, "get repository", err, git.ErrRepositoryNotFound)
	}
	name := repository.GetDefaultBranch()
	if name == "" {
		return "", "", &git.Error{Op: "get repository", Kind: git.ErrRefNotFound, Output: "repository has no default branch"}
	}

	commit, err := c.ResolveBranch(ctx, upstream, name)
	if err != nil {
		return "", "", err
	}
	return name, commit, nil
}

// ResolveBranch returns the tip commit of branch.
func (c *Client) ResolveBranch(ctx context.Context, upstream, branch string) (string, error) {
	owner, repo, err := splitUpstream(upstream)
	if err != nil {
		return "", err
	}

	b, _, err := c.client.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		return "", classify(ctx, "get branch "+branch, err, git.ErrRefNotFound)
	}
	sha := b.GetCommit().GetSHA()
	if sha == "" {
		return "", &git.Error{Op: "get branch " + branch, Kind: git.ErrRefNotFound}
	}
	return sha, nil
}

func splitUpstream(upstream string) (string, string, error) {
	owner, repo, ok := strings.Cut(upstream, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid upstream %q, expected owner/repo", upstream)
	}
	return owner, repo, nil
}

// classify maps API failures onto the git error kinds so callers handle
// both remotes the same way. notFound is the kind reported for 404s.
func classify(ctx context.Context, op string, err error, notFound error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &git.Error{Op: op, Kind: ctxErr, Err: err}
	}

	var (
		rateErr  *gh.RateLimitError
		abuseErr *gh.AbuseRateLimitError
		respErr  *gh.ErrorResponse
		netErr   net.Error
		urlErr   *url.Error
	)
	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return &git.Error{Op: op, Kind: git.ErrNetwork, Err: err}
	case errors.As(err, &respErr) && respErr.Response != nil:
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusNotFound:
			return &git.Error{Op: op, Kind: notFound, Err: err}
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &git.Error{Op: op, Kind: git.ErrRepositoryNotFound, Err: err}
		case status >= 500 || status == http.StatusTooManyRequests:
			return &git.Error{Op: op, Kind: git.ErrNetwork, Err: err}
		}
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return &git.Error{Op: op, Kind: git.ErrNetwork, Err: err}
	}
	return &git.Error{Op: op, Kind: git.ErrCommand, Err: err}
}
