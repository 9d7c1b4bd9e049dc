package git

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client provides the remote operations the sync engine needs: ref queries
// for version resolution and a shallow, sparse fetch of a single ref.
type Client interface {
	// ListTags returns the tag names of the remote repository.
	ListTags(ctx context.Context, url string) ([]string, error)
	// DefaultBranch returns the name and tip commit of the remote HEAD.
	DefaultBranch(ctx context.Context, url string) (name, commit string, err error)
	// ResolveBranch returns the tip commit of a branch, or ErrRefNotFound.
	ResolveBranch(ctx context.Context, url, branch string) (string, error)
	// ShallowFetch checks out ref into destDir with depth 1, restricted to
	// the given repository paths, and returns the checked out commit.
	ShallowFetch(ctx context.Context, url, ref, destDir string, paths []string) (string, error)
}

// ShellClient implements Client by shelling out to the git command
type ShellClient struct {
	sshKeyFile string
	token      string
}

// NewShellClient creates a new git client that uses the git command. The
// token, when set, authenticates HTTPS remotes.
func NewShellClient(sshKeyFile, token string) *ShellClient {
	return &ShellClient{
		sshKeyFile: sshKeyFile,
		token:      token,
	}
}

// RepoURL builds the clone URL of an owner/repo upstream below baseURL.
// An scp-style base such as "git@github.com:" is joined without a slash.
func RepoURL(baseURL, upstream string) string {
	if strings.HasSuffix(baseURL, ":") {
		return baseURL + upstream
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + upstream
}

// ListTags lists remote tags without peeled entries.
func (c *ShellClient) ListTags(ctx context.Context, url string) ([]string, error) {
	out, err := c.lsRemote(ctx, url, []string{"--tags", "--refs"})
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, ref := range parseRefs(out) {
		if name, ok := strings.CutPrefix(ref.name, "refs/tags/"); ok {
			tags = append(tags, name)
		}
	}
	return tags, nil
}

// DefaultBranch resolves the symbolic remote HEAD.
func (c *ShellClient) DefaultBranch(ctx context.Context, url string) (string, string, error) {
	out, err := c.lsRemote(ctx, url, []string{"--symref"}, "HEAD")
	if err != nil {
		return "", "", err
	}

	var name, commit string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if target, ok := strings.CutPrefix(line, "ref: "); ok {
			// "ref: refs/heads/main\tHEAD"
			target, _, _ = strings.Cut(target, "\t")
			name = strings.TrimPrefix(target, "refs/heads/")
			continue
		}
		if sha, ref, ok := strings.Cut(line, "\t"); ok && ref == "HEAD" {
			commit = sha
		}
	}

	if commit == "" {
		return "", "", &Error{Op: "ls-remote HEAD", Kind: ErrRefNotFound, Output: out}
	}
	if name == "" {
		name = "HEAD"
	}
	return name, commit, nil
}

// ResolveBranch resolves refs/heads/<branch> on the remote.
func (c *ShellClient) ResolveBranch(ctx context.Context, url, branch string) (string, error) {
	out, err := c.lsRemote(ctx, url, []string{"--heads"}, "refs/heads/"+branch)
	if err != nil {
		return "", err
	}

	for _, ref := range parseRefs(out) {
		if ref.name == "refs/heads/"+branch {
			return ref.sha, nil
		}
	}
	return "", &Error{Op: "ls-remote " + branch, Kind: ErrRefNotFound}
}

// ShallowFetch initializes destDir, limits the checkout to paths through a
// non-cone sparse checkout and fetches only the tip of ref.
func (c *ShellClient) ShallowFetch(ctx context.Context, url, ref, destDir string, paths []string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkout directory: %w", err)
	}

	steps := [][]string{
		{"init", "-q"},
		{"remote", "add", "origin", url},
		{"config", "core.sparseCheckout", "true"},
		{"config", "remote.origin.promisor", "true"},
		{"config", "remote.origin.partialclonefilter", "blob:none"},
	}
	for _, args := range steps {
		if err := c.run(ctx, destDir, "", args...); err != nil {
			return "", err
		}
	}

	var patterns strings.Builder
	for _, p := range paths {
		patterns.WriteString("/" + strings.TrimPrefix(p, "/") + "\n")
	}
	sparseFile := filepath.Join(destDir, ".git", "info", "sparse-checkout")
	if err := os.MkdirAll(filepath.Dir(sparseFile), 0755); err != nil {
		return "", fmt.Errorf("failed to prepare sparse checkout: %w", err)
	}
	if err := os.WriteFile(sparseFile, []byte(patterns.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write sparse checkout patterns: %w", err)
	}

	if err := c.run(ctx, destDir, url, "fetch", "-q", "--depth", "1", "--filter=blob:none", "--no-tags", "origin", ref); err != nil {
		return "", err
	}
	if err := c.run(ctx, destDir, url, "checkout", "-q", "--detach", "FETCH_HEAD"); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func (c *ShellClient) lsRemote(ctx context.Context, url string, flags []string, patterns ...string) (string, error) {
	args := append([]string{"ls-remote"}, flags...)
	args = append(args, url)
	args = append(args, patterns...)

	cmd := exec.CommandContext(ctx, "git", args...)
	if err := c.configureAuth(cmd, url); err != nil {
		return "", err
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", classify(ctx, "ls-remote", stderr.String(), err)
	}
	return stdout.String(), nil
}

// run executes git in dir. Commands that talk to the remote pass its URL so
// authentication is configured.
func (c *ShellClient) run(ctx context.Context, dir, url string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	if url != "" {
		if err := c.configureAuth(cmd, url); err != nil {
			return err
		}
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return classify(ctx, args[0], string(output), err)
	}
	return nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.token != "" && strings.HasPrefix(url, "https://") {
		// Pass the token via environment variable and configure a git
		// credential helper that reads it. This avoids embedding the
		// token directly in a shell expression.
		cmd.Env = append(cmd.Env, "TEMPLATESYNC_GIT_TOKEN="+c.token)
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$TEMPLATESYNC_GIT_TOKEN"; }; f`,
		)
	}

	return nil
}

type remoteRef struct {
	sha  string
	name string
}

// parseRefs parses "<sha>\t<ref>" lines from ls-remote output.
func parseRefs(out string) []remoteRef {
	var refs []remoteRef
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		sha, name, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "\t")
		if !ok || strings.HasPrefix(sha, "ref:") {
			continue
		}
		refs = append(refs, remoteRef{sha: sha, name: name})
	}
	return refs
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork)
}
