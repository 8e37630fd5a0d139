// Package errs defines the error values shared across the service layers.
// Lower layers return these typed errors; the HTTP layer maps them to a
// status code and message.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors usable with errors.Is.
var (
	// ErrNoSession indicates an authenticated operation was attempted
	// without a prior successful login.
	ErrNoSession = errors.New("no active session")

	// ErrGitOperationFailed indicates a git subprocess exited nonzero.
	ErrGitOperationFailed = errors.New("git operation failed")

	// ErrHostUnreachable indicates a transport-level failure talking to a
	// remote host, as opposed to a response the host actually sent.
	ErrHostUnreachable = errors.New("host unreachable")
)

// AuthError is returned when the git host rejects the supplied credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %q: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// KeyErrorKind distinguishes the failure classes in key reconciliation.
type KeyErrorKind int

const (
	// KeyErrorIO covers local filesystem failures.
	KeyErrorIO KeyErrorKind = iota
	// KeyErrorNetwork covers transport failures reaching the host.
	KeyErrorNetwork
	// KeyErrorRemoteRejected covers non-success responses from the host.
	KeyErrorRemoteRejected
)

func (k KeyErrorKind) String() string {
	switch k {
	case KeyErrorIO:
		return "io"
	case KeyErrorNetwork:
		return "network"
	case KeyErrorRemoteRejected:
		return "remote-rejection"
	default:
		return "unknown"
	}
}

// KeyReconciliationError is returned when the SSH keypair could not be
// brought into a consistent local/remote state.
type KeyReconciliationError struct {
	Kind KeyErrorKind
	Err  error
}

func (e *KeyReconciliationError) Error() string {
	return fmt.Sprintf("key reconciliation failed (%s): %v", e.Kind, e.Err)
}

func (e *KeyReconciliationError) Unwrap() error { return e.Err }

// SecretPropagationError names the repository whose secret could not be
// written. Repositories processed earlier in the same pass keep their
// secrets; callers should treat the call as retryable.
type SecretPropagationError struct {
	Repo   string
	Status int
	Err    error
}

func (e *SecretPropagationError) Error() string {
	msg := fmt.Sprintf("secret could not be installed in %q", e.Repo)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SecretPropagationError) Unwrap() error { return e.Err }

// ServiceError is returned when repository metadata could not be fetched
// before the pipeline took any action.
type ServiceError struct {
	Repo string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("repository %q: %v", e.Repo, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ServerError is a generic upstream or transport failure carrying an HTTP
// status hint for the handler layer.
type ServerError struct {
	Status int
	Msg    string
	Err    error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ServerError) Unwrap() error { return e.Err }

// GitError captures a failed git subprocess: the subcommand, its arguments
// and whatever the command wrote to stderr.
type GitError struct {
	Operation string
	Args      []string
	Output    string
	Err       error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed", e.Operation)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg = fmt.Sprintf("%s: %s", msg, out)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *GitError) Unwrap() error { return e.Err }

// NewGitError wraps a nonzero git exit under ErrGitOperationFailed so
// callers can match with errors.Is.
func NewGitError(operation string, args []string, err error, output string) *GitError {
	return &GitError{
		Operation: operation,
		Args:      args,
		Output:    output,
		Err:       fmt.Errorf("%w: %v", ErrGitOperationFailed, err),
	}
}
