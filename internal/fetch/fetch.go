// Package fetch retrieves the template subtree of an upstream repository at
// a single ref.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/schaermu/templatesync/internal/git"
)

// DefaultTemplateDir is the upstream directory holding the template tree.
const DefaultTemplateDir = "template"

// ErrTemplatesSubtreeMissing means the fetched ref does not contain the
// template directory, i.e. the upstream layout does not match.
var ErrTemplatesSubtreeMissing = errors.New("template subtree missing in upstream")

// Checkout describes a fetched upstream ref on disk.
type Checkout struct {
	// Root is the upstream repository root.
	Root string
	// TemplateDir is the template subtree below Root.
	TemplateDir string
	// Commit is the commit that was checked out.
	Commit string
}

// Options configures a Fetcher.
type Options struct {
	BaseURL     string
	TemplateDir string
	// ExtraPaths are repository paths fetched in addition to the template
	// subtree, such as the sync infrastructure entry points.
	ExtraPaths []string
	Backoff    wait.Backoff
}

// Fetcher performs shallow sparse fetches through a git.Client.
type Fetcher struct {
	git    git.Client
	opts   Options
	logger *slog.Logger
}

// New creates a Fetcher.
func New(client git.Client, opts Options, logger *slog.Logger) *Fetcher {
	if opts.TemplateDir == "" {
		opts.TemplateDir = DefaultTemplateDir
	}
	return &Fetcher{git: client, opts: opts, logger: logger}
}

// Fetch checks out ref of upstream into workdir/upstream, restricted to the
// template subtree and the extra paths. Transient network failures are
// retried; a missing ref fails immediately.
func (f *Fetcher) Fetch(ctx context.Context, ref, upstream, workdir string) (*Checkout, error) {
	url := git.RepoURL(f.opts.BaseURL, upstream)
	root := filepath.Join(workdir, "upstream")
	paths := append([]string{path.Clean(f.opts.TemplateDir) + "/"}, f.opts.ExtraPaths...)

	f.logger.Info("fetching template", "upstream", upstream, "ref", ref)

	var commit string
	err := git.Retry(ctx, f.opts.Backoff, f.logger, "fetch", func() error {
		// Each attempt starts from an empty directory so a half-initialized
		// repository from a failed attempt does not break the next one.
		if err := os.RemoveAll(root); err != nil {
			return fmt.Errorf("failed to reset checkout directory: %w", err)
		}
		var err error
		commit, err = f.git.ShallowFetch(ctx, url, ref, root, paths)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s@%s: %w", upstream, ref, err)
	}

	templateDir := filepath.Join(root, filepath.FromSlash(f.opts.TemplateDir))
	info, err := os.Stat(templateDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s has no %s/ directory at %s", ErrTemplatesSubtreeMissing, upstream, f.opts.TemplateDir, ref)
	}

	f.logger.Debug("fetched template", "commit", commit, "path", templateDir)
	return &Checkout{Root: root, TemplateDir: templateDir, Commit: commit}, nil
}
