package credential

import "fmt"

// ConfigStore is the key/value configuration table credentials live in.
type ConfigStore interface {
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// Vault reads and writes configuration values, encrypting secret keys.
type Vault struct {
	store   ConfigStore
	manager *Manager
}

func NewVault(store ConfigStore, m *Manager) *Vault {
	return &Vault{store: store, manager: m}
}

// Set stores value under key, sealing it when the key is a credential.
func (v *Vault) Set(key, value string) error {
	if IsSecretKey(key) {
		sealed, err := v.manager.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		value = sealed
	}
	return v.store.SetConfig(key, value)
}

// Get returns the plaintext value for key. A missing key yields "".
func (v *Vault) Get(key string) (string, error) {
	stored, err := v.store.GetConfig(key)
	if err != nil {
		return "", err
	}
	plain, err := v.manager.Decrypt(stored)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plain, nil
}

// Display returns the value for printing, masking credentials.
func (v *Vault) Display(key string) (string, error) {
	value, err := v.Get(key)
	if err != nil || value == "" || !IsSecretKey(key) {
		return value, err
	}
	return MaskSecret(value), nil
}
