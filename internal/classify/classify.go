// Package classify partitions a staged template tree and a local project tree
// into Added, Modified, Deleted, Unchanged and Excluded paths.
package classify

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/schaermu/templatesync/internal/exclude"
	"github.com/schaermu/templatesync/internal/tree"
)

// Category is the classification assigned to a single path.
type Category string

const (
	Added     Category = "added"
	Modified  Category = "modified"
	Deleted   Category = "deleted"
	Unchanged Category = "unchanged"
	Excluded  Category = "excluded"
)

// DefaultManagedRoots are the project directories whose contents originate
// upstream. Only these are walked on the local side.
var DefaultManagedRoots = []string{
	".claude",
	".serena",
	".taskmaster",
	".devcontainer",
}

// DefaultUserScoped are doublestar patterns for project paths that belong to
// the user permanently. They are never reported as deleted, whatever the
// manifest exclusions say.
var DefaultUserScoped = []string{
	".taskmaster/tasks/**",
	".taskmaster/docs/**",
	".taskmaster/reports/**",
	".serena/memories/**",
	".serena/cache/**",
	".claude/settings.local.json",
}

// Result holds the sorted project-relative paths of each category.
type Result struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string
	Excluded  []string
}

// HasChanges reports whether anything would be added, modified or deleted.
// Excluded and unchanged paths never count.
func (r *Result) HasChanges() bool {
	return len(r.Added)+len(r.Modified)+len(r.Deleted) > 0
}

// Paths returns the slice for a category.
func (r *Result) Paths(c Category) []string {
	switch c {
	case Added:
		return r.Added
	case Modified:
		return r.Modified
	case Deleted:
		return r.Deleted
	case Unchanged:
		return r.Unchanged
	case Excluded:
		return r.Excluded
	}
	return nil
}

// Options configures a Classifier.
type Options struct {
	// Matcher holds the manifest sync exclusions. Nil excludes nothing.
	Matcher *exclude.Matcher
	// ManagedRoots restricts the local walk. Defaults to DefaultManagedRoots.
	ManagedRoots []string
	// UserScoped are doublestar patterns skipped by the local walk.
	// Defaults to DefaultUserScoped.
	UserScoped []string
	// InfraPaths are the sync infrastructure entry points, compared only
	// through the staged walk.
	InfraPaths []string
}

// Classifier compares a staged tree against a project tree.
type Classifier struct {
	matcher      *exclude.Matcher
	managedRoots []string
	userScoped   []string
	infraPaths   []string
}

// New creates a Classifier, validating the user-scoped patterns.
func New(opts Options) (*Classifier, error) {
	c := &Classifier{
		matcher:      opts.Matcher,
		managedRoots: opts.ManagedRoots,
		userScoped:   opts.UserScoped,
		infraPaths:   opts.InfraPaths,
	}
	if c.managedRoots == nil {
		c.managedRoots = DefaultManagedRoots
	}
	if c.userScoped == nil {
		c.userScoped = DefaultUserScoped
	}
	for _, p := range c.userScoped {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid user-scoped pattern %q", p)
		}
	}
	return c, nil
}

// Classify walks stagedDir and the managed roots of projectDir. Every staged
// file lands in exactly one category; local files only ever add Deleted
// entries. A path is recorded as Excluded at most once.
func (c *Classifier) Classify(stagedDir, projectDir string) (*Result, error) {
	res := &Result{}
	excluded := make(map[string]bool)

	// Staged walk: authoritative for Added, Modified, Unchanged and Excluded.
	stagedFiles, err := tree.DiscoverFiles(stagedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk staged tree: %w", err)
	}

	staged := make(map[string]bool, len(stagedFiles))
	for _, stagedPath := range stagedFiles {
		rel, err := tree.RelativePath(stagedDir, stagedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		staged[rel] = true

		if c.matcher.IsExcluded(rel) {
			if !excluded[rel] {
				excluded[rel] = true
				res.Excluded = append(res.Excluded, rel)
			}
			continue
		}

		localPath := filepath.Join(projectDir, filepath.FromSlash(rel))
		exists, err := tree.Exists(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
		}
		if !exists {
			res.Added = append(res.Added, rel)
			continue
		}

		same, err := tree.SameContent(stagedPath, localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to compare %s: %w", rel, err)
		}
		if same {
			res.Unchanged = append(res.Unchanged, rel)
		} else {
			res.Modified = append(res.Modified, rel)
		}
	}

	// Local walk: only finds deletions.
	deleted := make(map[string]bool)
	for _, root := range c.managedRoots {
		rootDir := filepath.Join(projectDir, filepath.FromSlash(root))
		info, err := os.Stat(rootDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", rootDir, err)
		}
		if !info.IsDir() {
			continue
		}

		localFiles, err := tree.DiscoverFiles(rootDir)
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", rootDir, err)
		}

		for _, localPath := range localFiles {
			rel, err := tree.RelativePath(projectDir, localPath)
			if err != nil {
				return nil, fmt.Errorf("failed to compute relative path: %w", err)
			}

			if c.isUserScoped(rel) || c.isInfra(rel) {
				continue
			}
			// Excluded local-only files have nothing to report, and a path
			// seen in the staged walk is already recorded.
			if c.matcher.IsExcluded(rel) {
				continue
			}
			if !staged[rel] && !deleted[rel] {
				deleted[rel] = true
				res.Deleted = append(res.Deleted, rel)
			}
		}
	}

	for _, list := range [][]string{res.Added, res.Modified, res.Deleted, res.Unchanged, res.Excluded} {
		sort.Strings(list)
	}
	return res, nil
}

func (c *Classifier) isUserScoped(rel string) bool {
	for _, p := range c.userScoped {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// isInfra reports whether rel is an infrastructure entry point or sits in the
// same directory as one.
func (c *Classifier) isInfra(rel string) bool {
	for _, p := range c.infraPaths {
		if rel == p {
			return true
		}
		if dir := path.Dir(p); dir != "." && strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return false
}
