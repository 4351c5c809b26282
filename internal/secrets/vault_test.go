package secrets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVault(t *testing.T) *FileVault {
	t.Helper()
	v, err := NewFileVault(filepath.Join(t.TempDir(), "creds.vault"), VaultConfig{
		Passphrase: "correct horse battery staple",
		Salt:       []byte("botflow-test-salt"),
		Iterations: 1000, // keep the test fast
	})
	require.NoError(t, err)
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := testVault(t)

	require.NoError(t, v.Save(map[string]string{
		"NLU_API_KEY": "sk-123",
		"NLU_URL":     "https://nlu.example.com",
	}))

	creds, err := v.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-123", creds["NLU_API_KEY"])
	assert.Equal(t, "https://nlu.example.com", creds["NLU_URL"])
}

func TestVaultMissingFileIsEmpty(t *testing.T) {
	v := testVault(t)
	creds, err := v.Load()
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestVaultSetAndDelete(t *testing.T) {
	v := testVault(t)

	require.NoError(t, v.Set("KEY", "value"))
	creds, err := v.Load()
	require.NoError(t, err)
	assert.Equal(t, "value", creds["KEY"])

	require.NoError(t, v.Delete("KEY"))
	creds, err = v.Load()
	require.NoError(t, err)
	assert.Empty(t, creds)

	require.Error(t, v.Delete("KEY"))
}

func TestVaultWrongPassphraseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.vault")
	v1, err := NewFileVault(path, VaultConfig{
		Passphrase: "first", Salt: []byte("salt"), Iterations: 1000,
	})
	require.NoError(t, err)
	require.NoError(t, v1.Save(map[string]string{"K": "v"}))

	v2, err := NewFileVault(path, VaultConfig{
		Passphrase: "second", Salt: []byte("salt"), Iterations: 1000,
	})
	require.NoError(t, err)
	_, err = v2.Load()
	require.Error(t, err)
}

func TestVaultConfigValidation(t *testing.T) {
	_, err := NewFileVault("x", VaultConfig{})
	require.Error(t, err)

	_, err = NewFileVault("x", VaultConfig{Passphrase: "p"})
	require.Error(t, err)

	_, err = NewFileVault("x", VaultConfig{MasterKey: []byte("short")})
	require.Error(t, err)

	_, err = NewFileVault("x", VaultConfig{MasterKey: make([]byte, 32)})
	require.NoError(t, err)
}
