// Package secrets keeps understanding-service credentials encrypted at rest.
// Credentials are handed to runtimes in memory only and are never part of a
// session snapshot, so the encrypted file is their single durable home.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rendis/botflow/pkg/schema"
)

// VaultConfig configures key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// FileVault stores a flat credentials mapping as one AES-256-GCM encrypted
// file on disk.
type FileVault struct {
	path string
	aead cipher.AEAD
}

// NewFileVault creates a vault over the given file path.
func NewFileVault(path string, cfg VaultConfig) (*FileVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &FileVault{path: path, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Save encrypts the credentials mapping and writes it to the vault file.
func (v *FileVault) Save(creds map[string]string) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return schema.NewError(schema.ErrCodeVault, "marshal credentials").WithCause(err)
	}
	ciphertext, err := v.encrypt(plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(v.path, ciphertext, 0o600); err != nil {
		return schema.NewErrorf(schema.ErrCodeVault, "write vault file %q", v.path).WithCause(err)
	}
	return nil
}

// Load reads and decrypts the credentials mapping. A missing file yields an
// empty mapping, not an error.
func (v *FileVault) Load() (map[string]string, error) {
	ciphertext, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "read vault file %q", v.path).WithCause(err)
	}
	plaintext, err := v.decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, schema.NewError(schema.ErrCodeVault, "vault content is not a credentials mapping").WithCause(err)
	}
	return creds, nil
}

// Set updates one credential and persists the mapping.
func (v *FileVault) Set(key, value string) error {
	creds, err := v.Load()
	if err != nil {
		return err
	}
	creds[key] = value
	return v.Save(creds)
}

// Delete removes one credential and persists the mapping.
func (v *FileVault) Delete(key string) error {
	creds, err := v.Load()
	if err != nil {
		return err
	}
	if _, ok := creds[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "credential %q not found", key)
	}
	delete(creds, key)
	return v.Save(creds)
}

func (v *FileVault) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *FileVault) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}
