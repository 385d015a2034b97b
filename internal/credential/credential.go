// Package credential encrypts provider API keys before they are written to
// the store's configuration table.
//
// Keys are sealed with AES-256-GCM. The encryption key comes from
// EGOGRAPHICA_SECRET when set, so every instance of a deployment can read the
// same table; otherwise it is derived from machine identifiers and values only
// decrypt on the machine that wrote them.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hkdf"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

const (
	// EncryptedPrefix marks values as encrypted in storage.
	EncryptedPrefix = "enc:v1:"

	// SecretEnv names the environment variable holding a shared secret.
	SecretEnv = "EGOGRAPHICA_SECRET"

	salt = "egographica-credential-v1"
)

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
)

// Manager seals and opens credential values.
type Manager struct {
	aead cipher.AEAD
}

// NewManager creates a manager keyed from EGOGRAPHICA_SECRET, or from machine
// identifiers when the variable is unset.
func NewManager() (*Manager, error) {
	if secret := os.Getenv(SecretEnv); secret != "" {
		return NewManagerFromSecret(secret)
	}
	return newManager(machineEntropy())
}

// NewManagerFromSecret creates a manager keyed from a shared secret.
func NewManagerFromSecret(secret string) (*Manager, error) {
	if secret == "" {
		return nil, errors.New("empty secret")
	}
	return newManager([]byte(secret))
}

func newManager(material []byte) (*Manager, error) {
	key, err := hkdf.Key(sha256.New, material, []byte(salt), "api-keys", 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Manager{aead: aead}, nil
}

// Encrypt seals plaintext. Empty input stays empty.
func (m *Manager) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := m.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a stored value. Values without the prefix were written before
// encryption was enabled and are returned unchanged.
func (m *Manager) Decrypt(stored string) (string, error) {
	if !IsEncrypted(stored) {
		return stored, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}
	n := m.aead.NonceSize()
	if len(sealed) < n+m.aead.Overhead() {
		return "", ErrInvalidFormat
	}
	plaintext, err := m.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the encryption prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// IsSecretKey reports whether a configuration key holds a credential.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(key, ".api_key") || strings.HasSuffix(key, "_password")
}

func machineEntropy() []byte {
	var b strings.Builder
	hostname, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(hostname)
	b.WriteString(home)
	b.WriteString(runtime.GOOS + "/" + runtime.GOARCH)
	fmt.Fprintf(&b, "uid:%d", os.Getuid())
	b.WriteString(os.Getenv("USER"))
	return []byte(b.String())
}

// MaskSecret hides all but the first and last four characters.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
