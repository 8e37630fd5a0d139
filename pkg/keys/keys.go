// Package keys manages the service's SSH keypair: generation, the local
// on-disk store, and reconciliation with the git host's key registry.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// KeyName is the filename of the private key and the label of the key on
// the host. The public key lives next to it as KeyName + ".pub".
const KeyName = "gin-proc"

const keySize = 2048

// Keypair holds a freshly generated keypair: the private key as
// unencrypted PKCS8 PEM, the public key in authorized_keys format.
type Keypair struct {
	Private []byte
	Public  []byte
}

// Generate creates a new RSA keypair sized for the host's SSH registry.
func Generate() (Keypair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	private := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	sshPub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to derive public key: %w", err)
	}
	public := ssh.MarshalAuthorizedKey(sshPub)

	return Keypair{Private: private, Public: public}, nil
}

// LocalStore reads and writes the keypair under a single directory.
// The directory is owner-only (0700) and both files 0600: the private key
// is handed to the CI host as a secret and must not be world-readable.
type LocalStore struct {
	Dir string
}

// PrivateKeyPath returns the path git is pointed at for SSH auth.
func (s *LocalStore) PrivateKeyPath() string {
	return filepath.Join(s.Dir, KeyName)
}

// PublicKeyPath returns the path of the stored public key.
func (s *LocalStore) PublicKeyPath() string {
	return filepath.Join(s.Dir, KeyName+".pub")
}

// Exists reports whether the private key is present locally.
func (s *LocalStore) Exists() bool {
	_, err := os.Stat(s.PrivateKeyPath())
	return err == nil
}

// Write persists the keypair with restricted permissions.
func (s *LocalStore) Write(pair Keypair) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	// MkdirAll mode is subject to the umask; pin it explicitly.
	if err := os.Chmod(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to restrict key directory: %w", err)
	}
	if err := os.WriteFile(s.PrivateKeyPath(), pair.Private, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(s.PublicKeyPath(), pair.Public, 0o600); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// ReadPrivateKey returns the current private key contents.
func (s *LocalStore) ReadPrivateKey() ([]byte, error) {
	data, err := os.ReadFile(s.PrivateKeyPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return data, nil
}

// Remove deletes both key files.
func (s *LocalStore) Remove() error {
	if err := os.Remove(s.PrivateKeyPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}
	if err := os.Remove(s.PublicKeyPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove public key: %w", err)
	}
	return nil
}
