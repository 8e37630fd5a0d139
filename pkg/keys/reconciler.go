package keys

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mscno/ginproc/pkg/errs"
	"github.com/mscno/ginproc/pkg/gin"
)

// RemoteRegistry is the slice of the git-host client the reconciler needs.
// *gin.APIClient satisfies it.
type RemoteRegistry interface {
	Keys(ctx context.Context, token string) ([]gin.PublicKey, error)
	AddKey(ctx context.Context, token, title, key string) error
	DeleteKey(ctx context.Context, token string, id int64) error
}

// Reconciler keeps the labeled keypair consistent between the local store
// and the host's key registry.
type Reconciler struct {
	Remote RemoteRegistry
	Store  *LocalStore
	Logger *slog.Logger
}

func NewReconciler(remote RemoteRegistry, store *LocalStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Remote: remote, Store: store, Logger: logger}
}

// Ensure converges the keypair to present-and-matching in both locations.
//
// States over (local, remote) presence:
//   - both present: consistent, nothing to do
//   - remote only: delete the remote key, install a fresh pair
//   - local only: delete the local files, install a fresh pair
//   - neither: install a fresh pair
//
// Any divergence is resolved by regeneration rather than by copying one
// side to the other: the local private key for a remote-only public key is
// gone for good, and a local-only pair has no business staying trusted.
// Idempotent once converged.
func (r *Reconciler) Ensure(ctx context.Context, token string) error {
	remote, err := r.findRemote(ctx, token)
	if err != nil {
		return remoteErr(err)
	}
	local := r.Store.Exists()

	switch {
	case local && remote != nil:
		r.Logger.Debug("keys ensured both on server and locally")
		return nil
	case !local && remote != nil:
		r.Logger.Debug("key installed on the server but not locally")
		if err := r.Remote.DeleteKey(ctx, token, remote.ID); err != nil {
			return remoteErr(err)
		}
		r.Logger.Warn("deleted key from server")
	case local && remote == nil:
		r.Logger.Debug("key installed locally but not on the server")
		if err := r.Store.Remove(); err != nil {
			return &errs.KeyReconciliationError{Kind: errs.KeyErrorIO, Err: err}
		}
		r.Logger.Warn("removed local keys")
	}

	return r.installFresh(ctx, token)
}

func (r *Reconciler) installFresh(ctx context.Context, token string) error {
	pair, err := Generate()
	if err != nil {
		return &errs.KeyReconciliationError{Kind: errs.KeyErrorIO, Err: err}
	}
	if err := r.Store.Write(pair); err != nil {
		return &errs.KeyReconciliationError{Kind: errs.KeyErrorIO, Err: err}
	}
	pub := strings.TrimSpace(string(pair.Public))
	if err := r.Remote.AddKey(ctx, token, KeyName, pub); err != nil {
		return remoteErr(err)
	}
	r.Logger.Info("fresh keypair installed", "path", r.Store.PrivateKeyPath())
	return nil
}

func (r *Reconciler) findRemote(ctx context.Context, token string) (*gin.PublicKey, error) {
	keys, err := r.Remote.Keys(ctx, token)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.Title == KeyName {
			key := k
			return &key, nil
		}
	}
	return nil, nil
}

// remoteErr tags a git-host failure as network or remote-rejection.
func remoteErr(err error) error {
	kind := errs.KeyErrorRemoteRejected
	if errors.Is(err, errs.ErrHostUnreachable) {
		kind = errs.KeyErrorNetwork
	}
	return &errs.KeyReconciliationError{Kind: kind, Err: err}
}
