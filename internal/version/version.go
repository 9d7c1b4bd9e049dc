// Package version maps a version request to a concrete upstream ref.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Masterminds/semver/v3"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/schaermu/templatesync/internal/git"
)

const (
	// Latest selects the highest tag, or the default branch when there are none.
	Latest = "latest"
	// Head selects the tip of the default branch.
	Head = "HEAD"
)

// Kind describes what a resolved ref refers to.
type Kind string

const (
	KindTag     Kind = "tag"
	KindBranch  Kind = "branch"
	KindCommit  Kind = "commit"
	KindLiteral Kind = "literal"
)

// Resolved is a version request together with the concrete ref it maps to.
type Resolved struct {
	Requested string
	Ref       string
	Kind      Kind
}

func (r Resolved) String() string {
	if r.Requested == r.Ref {
		return r.Ref
	}
	return fmt.Sprintf("%s (%s %s)", r.Requested, r.Kind, r.Ref)
}

// Remote answers ref queries about an upstream repository given as
// owner/repo.
type Remote interface {
	ListTags(ctx context.Context, upstream string) ([]string, error)
	DefaultBranch(ctx context.Context, upstream string) (name, commit string, err error)
	ResolveBranch(ctx context.Context, upstream, branch string) (string, error)
}

// Resolver resolves version requests against a Remote.
type Resolver struct {
	remote  Remote
	logger  *slog.Logger
	backoff wait.Backoff
}

// NewResolver creates a resolver. Transient remote failures are retried
// according to backoff.
func NewResolver(remote Remote, logger *slog.Logger, backoff wait.Backoff) *Resolver {
	return &Resolver{remote: remote, logger: logger, backoff: backoff}
}

// Resolve maps target to a concrete ref:
//   - "latest" or "": the highest semantic-version tag, the default branch
//     tip when there are no tags
//   - "HEAD": the default branch tip
//   - an upstream branch name: that branch's tip
//   - anything else: unchanged, validated when fetched
func (r *Resolver) Resolve(ctx context.Context, target, upstream string) (Resolved, error) {
	switch target {
	case "", Latest:
		return r.resolveLatest(ctx, upstream)
	case Head:
		_, commit, err := r.defaultBranch(ctx, upstream)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Requested: Head, Ref: commit, Kind: KindCommit}, nil
	}

	var commit string
	err := r.retry(ctx, "resolve branch", func() error {
		var err error
		commit, err = r.remote.ResolveBranch(ctx, upstream, target)
		return err
	})
	switch {
	case err == nil:
		return Resolved{Requested: target, Ref: commit, Kind: KindBranch}, nil
	case errors.Is(err, git.ErrRefNotFound):
		return Resolved{Requested: target, Ref: target, Kind: KindLiteral}, nil
	default:
		return Resolved{}, fmt.Errorf("failed to resolve %q: %w", target, err)
	}
}

func (r *Resolver) resolveLatest(ctx context.Context, upstream string) (Resolved, error) {
	var tags []string
	err := r.retry(ctx, "list tags", func() error {
		var err error
		tags, err = r.remote.ListTags(ctx, upstream)
		return err
	})
	if err != nil {
		return Resolved{}, fmt.Errorf("failed to list tags: %w", err)
	}

	if tag, ok := LatestTag(tags); ok {
		r.logger.Debug("resolved latest tag", "tag", tag, "candidates", len(tags))
		return Resolved{Requested: Latest, Ref: tag, Kind: KindTag}, nil
	}

	name, commit, err := r.defaultBranch(ctx, upstream)
	if err != nil {
		return Resolved{}, err
	}
	r.logger.Warn("upstream has no tags, using default branch tip", "branch", name, "commit", commit)
	return Resolved{Requested: Latest, Ref: commit, Kind: KindCommit}, nil
}

func (r *Resolver) defaultBranch(ctx context.Context, upstream string) (string, string, error) {
	var name, commit string
	err := r.retry(ctx, "default branch", func() error {
		var err error
		name, commit, err = r.remote.DefaultBranch(ctx, upstream)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve default branch: %w", err)
	}
	return name, commit, nil
}

func (r *Resolver) retry(ctx context.Context, op string, fn func() error) error {
	return git.Retry(ctx, r.backoff, r.logger, op, fn)
}

// LatestTag picks the highest tag by semantic-version order. Tags that do
// not parse are ignored unless none parse, in which case the lexically
// greatest tag wins. It reports false for an empty list.
func LatestTag(tags []string) (string, bool) {
	if len(tags) == 0 {
		return "", false
	}

	var (
		best    *semver.Version
		bestTag string
	)
	for _, tag := range tags {
		v, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		// Equal versions ("v1.0" and "1.0.0") keep the lexically greater name
		// so the choice does not depend on listing order.
		if best == nil || v.GreaterThan(best) || (v.Equal(best) && tag > bestTag) {
			best, bestTag = v, tag
		}
	}
	if best != nil {
		return bestTag, true
	}

	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return sorted[len(sorted)-1], true
}
