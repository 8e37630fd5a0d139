package keys

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestGenerate(t *testing.T) {
	pair, err := Generate()
	require.NoError(t, err)

	block, rest := pem.Decode(pair.Private)
	require.NotNil(t, block, "private key must be PEM")
	assert.Empty(t, rest)
	assert.Equal(t, "PRIVATE KEY", block.Type)

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	_ = key

	pub, _, _, _, err := ssh.ParseAuthorizedKey(pair.Public)
	require.NoError(t, err, "public key must be authorized_keys format")
	assert.Equal(t, "ssh-rsa", pub.Type())
}

func TestLocalStore_WritePermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ssh")
	store := &LocalStore{Dir: dir}

	pair, err := Generate()
	require.NoError(t, err)
	require.NoError(t, store.Write(pair))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	privInfo, err := os.Stat(store.PrivateKeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), privInfo.Mode().Perm())

	pubInfo, err := os.Stat(store.PublicKeyPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), pubInfo.Mode().Perm())

	data, err := store.ReadPrivateKey()
	require.NoError(t, err)
	assert.Equal(t, pair.Private, data)
	assert.True(t, strings.HasSuffix(store.PublicKeyPath(), KeyName+".pub"))
}

func TestLocalStore_ExistsAndRemove(t *testing.T) {
	store := &LocalStore{Dir: t.TempDir()}
	assert.False(t, store.Exists())

	pair, err := Generate()
	require.NoError(t, err)
	require.NoError(t, store.Write(pair))
	assert.True(t, store.Exists())

	require.NoError(t, store.Remove())
	assert.False(t, store.Exists())

	// Removing an empty store is not an error.
	require.NoError(t, store.Remove())
}
