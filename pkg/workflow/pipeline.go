// Package workflow clones a repository, writes its CI pipeline definition,
// commits and pushes the change, and registers the repository with the CI
// host.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mscno/ginproc/pkg/errs"
	"github.com/mscno/ginproc/pkg/gin"
	"github.com/mscno/ginproc/pkg/secrets"
)

// Request carries one workflow submission. Constructed per execute call,
// consumed immediately, never persisted.
type Request struct {
	Repo          string
	CommitMessage string
	UserCommands  []string
	Workflow      string
	InputFiles    []string
	OutputFiles   []string
	Notifications bool
}

// RepoFetcher is the slice of the git-host client the pipeline needs.
type RepoFetcher interface {
	Repo(ctx context.Context, token, owner, name string) (gin.Repository, error)
}

// CIRegistrar is the slice of the CI client the pipeline needs.
type CIRegistrar interface {
	EnableRepo(ctx context.Context, slug string) error
}

// KeySource locates the private key git authenticates with.
type KeySource interface {
	PrivateKeyPath() string
}

// Pipeline wires the collaborators for one configure call.
type Pipeline struct {
	Host    RepoFetcher
	CI      CIRegistrar
	Secrets *secrets.Propagator
	Keys    KeySource
	Git     GitRunner
	Logger  *slog.Logger
}

func NewPipeline(host RepoFetcher, ci CIRegistrar, sec *secrets.Propagator, keys KeySource, git GitRunner, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{Host: host, CI: ci, Secrets: sec, Keys: keys, Git: git, Logger: logger}
}

// Configure runs the full sequence: fetch repository metadata, clone
// shallowly into a scoped temporary directory, write the pipeline
// definition, commit and push, then enable CI and install the key secret.
//
// Metadata failure aborts before any side effect. The temporary directory
// is removed on every exit path. A push that succeeded is not rolled back
// when a later step fails; the caller sees the error and retries.
func (p *Pipeline) Configure(ctx context.Context, req Request, token, username string) error {
	repo, err := p.Host.Repo(ctx, token, username, req.Repo)
	if err != nil {
		return &errs.ServiceError{Repo: req.Repo, Err: err}
	}

	// The SSH identity is scoped to this invocation's git subprocesses,
	// not the whole process environment.
	gitEnv := []string{
		fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o StrictHostKeyChecking=no", p.Keys.PrivateKeyPath()),
	}

	tempDir, err := os.MkdirTemp("", "ginproc-*")
	if err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tempDir); rmErr != nil {
			p.Logger.Error("failed to remove work directory", "path", tempDir, "error", rmErr)
		}
	}()

	clonePath := filepath.Join(tempDir, username, repo.Name)
	if err := os.MkdirAll(clonePath, 0o755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}

	cloneURL := repo.SSHURL
	if cloneURL == "" {
		cloneURL = repo.CloneURL
	}
	if err := p.Git.Run(ctx, "", gitEnv, "clone", "--depth=1", cloneURL, clonePath); err != nil {
		return err
	}
	p.Logger.Debug("repository cloned", "path", clonePath)

	if err := WriteDroneFile(clonePath, req); err != nil {
		return err
	}

	if err := p.Git.Run(ctx, clonePath, gitEnv, "add", "."); err != nil {
		return err
	}
	if err := p.Git.Run(ctx, clonePath, gitEnv, "commit", "-m", req.CommitMessage); err != nil {
		return err
	}
	if err := p.Git.Run(ctx, clonePath, gitEnv, "push"); err != nil {
		return err
	}
	p.Logger.Info("updates pushed", "repo", repo.FullName)

	if err := p.CI.EnableRepo(ctx, repo.FullName); err != nil {
		return err
	}
	return p.Secrets.InstallCurrent(ctx, repo.FullName)
}
