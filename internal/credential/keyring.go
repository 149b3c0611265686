// Package credential supplies account passwords to the session engine.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/pkg/types"
)

const defaultFileDir = "~/.config/mailflow/credentials"

// Keyring reads account passwords from the system keyring.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring configured by cfg.
func OpenKeyring(cfg config.CredentialsConfig) (*Keyring, error) {
	service := cfg.ServiceName
	if service == "" {
		service = "mailflow"
	}
	dir := cfg.FileDir
	if dir == "" {
		dir = defaultFileDir
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyring(ring), nil
}

// NewKeyring wraps an opened keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// GetPassword implements email.CredentialProvider.
func (k *Keyring) GetPassword(_ context.Context, account types.Account) (string, bool, error) {
	item, err := k.ring.Get(account.PasswordKey())
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting credential %q: %w", account.PasswordKey(), err)
	}
	return string(item.Data), true, nil
}

// SetPassword stores the password of an account.
func (k *Keyring) SetPassword(account types.Account, password string) error {
	err := k.ring.Set(keyring.Item{
		Key:   account.PasswordKey(),
		Data:  []byte(password),
		Label: "mailflow password for " + account.Email,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", account.PasswordKey(), err)
	}
	return nil
}

// DeletePassword removes the password of an account.
func (k *Keyring) DeletePassword(account types.Account) error {
	if err := k.ring.Remove(account.PasswordKey()); err != nil {
		return fmt.Errorf("deleting credential %q: %w", account.PasswordKey(), err)
	}
	return nil
}
