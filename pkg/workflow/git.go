package workflow

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/mscno/ginproc/pkg/errs"
)

// GitRunner executes git subcommands. Implementations must check exit
// codes: a failed commit or push has to be distinguishable from a no-op.
type GitRunner interface {
	// Run executes `git args...` in dir with extra environment entries
	// appended to the process environment.
	Run(ctx context.Context, dir string, env []string, args ...string) error
}

// ExecRunner runs the local git binary.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (e *ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		operation := ""
		if len(args) > 0 {
			operation = args[0]
		}
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return errs.NewGitError(operation, rest, err, stderr.String())
	}
	return nil
}

var _ GitRunner = (*ExecRunner)(nil)
