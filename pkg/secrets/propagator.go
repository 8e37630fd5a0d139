// Package secrets mirrors the local private key into every CI-enabled
// repository as the fixed build secret.
package secrets

import (
	"context"
	"log/slog"

	"github.com/mscno/ginproc/pkg/drone"
	"github.com/mscno/ginproc/pkg/keys"
)

// Propagator pushes the current private key to each active repository on
// the CI host.
type Propagator struct {
	CI     drone.Client
	Store  *keys.LocalStore
	Logger *slog.Logger
}

func NewPropagator(ci drone.Client, store *keys.LocalStore, logger *slog.Logger) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Propagator{CI: ci, Store: store, Logger: logger}
}

// EnsureAll installs or refreshes the build secret on every active
// repository. After a successful return every active repository's secret
// matches the local private key byte-for-byte. On failure the repositories
// already processed keep their secrets; the call is safe to retry.
func (p *Propagator) EnsureAll(ctx context.Context) error {
	repos, err := p.CI.Repos(ctx)
	if err != nil {
		return err
	}
	key, err := p.Store.ReadPrivateKey()
	if err != nil {
		return err
	}
	for _, repo := range repos {
		if !repo.Active {
			continue
		}
		if err := p.EnsureRepo(ctx, repo.Slug, key); err != nil {
			return err
		}
	}
	return nil
}

// EnsureRepo updates the secret when it already exists on the repository
// and creates it otherwise. The CI host never returns secret values, so
// the update is unconditional rather than compared.
func (p *Propagator) EnsureRepo(ctx context.Context, slug string, key []byte) error {
	existing, err := p.CI.Secrets(ctx, slug)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s.Name == drone.SecretName {
			p.Logger.Debug("secret found", "slug", slug)
			return p.CI.UpdateSecret(ctx, slug, drone.SecretName, string(key))
		}
	}
	p.Logger.Debug("secret not found, installing", "slug", slug)
	return p.CI.CreateSecret(ctx, slug, drone.SecretName, string(key))
}

// InstallCurrent reads the current private key and installs it on one
// repository. Used by the workflow pipeline after enabling a repository.
func (p *Propagator) InstallCurrent(ctx context.Context, slug string) error {
	key, err := p.Store.ReadPrivateKey()
	if err != nil {
		return err
	}
	return p.EnsureRepo(ctx, slug, key)
}
