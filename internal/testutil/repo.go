// Package testutil holds helpers shared by package tests: file tree builders
// and throwaway local git repositories that stand in for an upstream.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// WriteTree creates files below dir from a map of slash-separated relative
// paths to content.
func WriteTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

// ReadTree returns all regular files below dir keyed by slash-separated
// relative path. The .git directory is skipped.
func ReadTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

// SortedKeys returns the keys of m in order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RequireGit skips the test when no git binary is available.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// GitRepo is a local repository standing in for an upstream remote.
type GitRepo struct {
	t   *testing.T
	Dir string
}

// NewGitRepo initializes a repository on the given branch. Upstreams are
// addressed as <base>/<owner>/<repo>, so the repository is created at
// base/upstream and base is what callers pass as the clone base URL.
func NewGitRepo(t *testing.T, base, upstream, branch string) *GitRepo {
	t.Helper()
	RequireGit(t)

	dir := filepath.Join(base, filepath.FromSlash(upstream))
	r := &GitRepo{t: t, Dir: dir}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	r.Git("init", "-q", "-b", branch)
	r.Git("config", "user.email", "test@test.com")
	r.Git("config", "user.name", "Test")
	r.Git("config", "commit.gpgsign", "false")
	r.Git("config", "uploadpack.allowFilter", "true")
	r.Git("config", "uploadpack.allowAnySHA1InWant", "true")
	return r
}

// Git runs a git command in the repository and returns its trimmed output.
func (r *GitRepo) Git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Commit writes files, commits everything and returns the commit id.
func (r *GitRepo) Commit(msg string, files map[string]string) string {
	r.t.Helper()
	WriteTree(r.t, r.Dir, files)
	r.Git("add", "-A")
	r.Git("commit", "-q", "--allow-empty", "-m", msg)
	return r.Git("rev-parse", "HEAD")
}

// Remove deletes files from the work tree; the next Commit records it.
func (r *GitRepo) Remove(paths ...string) {
	r.t.Helper()
	for _, p := range paths {
		if err := os.RemoveAll(filepath.Join(r.Dir, filepath.FromSlash(p))); err != nil {
			r.t.Fatal(err)
		}
	}
}

// Tag creates a lightweight tag at HEAD.
func (r *GitRepo) Tag(name string) {
	r.t.Helper()
	r.Git("tag", name)
}
