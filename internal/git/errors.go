package git

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork marks transient transport failures. Operations failing with
	// it may succeed when retried.
	ErrNetwork = errors.New("network error")
	// ErrRefNotFound means the remote answered and the ref does not exist.
	ErrRefNotFound = errors.New("ref not found")
	// ErrRepositoryNotFound means the remote repository does not exist or is
	// not accessible with the configured credentials.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrCommand covers any other git failure.
	ErrCommand = errors.New("git command failed")
)

// Error describes a failed git operation together with its classification.
type Error struct {
	Op     string
	Kind   error
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("git %s: %v", e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap exposes both the classification and the underlying cause to
// errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

var (
	refNotFoundPatterns = []string{
		"couldn't find remote ref",
		"could not find remote ref",
		"not our ref",
		"no such remote ref",
		"unknown revision",
		"invalid refspec",
	}
	repoNotFoundPatterns = []string{
		"repository not found",
		"' not found",
		"returned error: 404",
		"returned error: 403",
		"does not appear to be a git repository",
		"does not exist",
		"authentication failed",
	}
	networkPatterns = []string{
		"could not resolve host",
		"unable to access",
		"connection refused",
		"connection reset",
		"connection timed out",
		"operation timed out",
		"timed out",
		"early eof",
		"the remote end hung up unexpectedly",
		"network is unreachable",
		"temporary failure",
		"broken pipe",
		"tls handshake",
		"gnutls_handshake",
		"ssl_",
		"http/2 stream",
		"rpc failed",
	}
)

// classify turns a failed git invocation into a typed Error by inspecting
// its output. A cancelled or expired context wins over everything else.
func classify(ctx context.Context, op, output string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Op: op, Kind: ctxErr, Output: output, Err: err}
	}

	lower := strings.ToLower(output)
	kind := ErrCommand
	switch {
	case containsAny(lower, refNotFoundPatterns):
		kind = ErrRefNotFound
	case containsAny(lower, repoNotFoundPatterns):
		kind = ErrRepositoryNotFound
	case containsAny(lower, networkPatterns):
		kind = ErrNetwork
	}
	return &Error{Op: op, Kind: kind, Output: output, Err: err}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
