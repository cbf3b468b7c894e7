package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/brandon/mailcore/internal/config"
)

const serviceName = "mailcore"

// KeyringConfig tunes the system keyring lookup
type KeyringConfig struct {
	// FileDir is used by the encrypted-file fallback backend
	FileDir string
	// FilePassword unlocks the file backend; a fixed default is used when empty
	FilePassword string
}

// Keyring resolves passwords from the operating system keyring.
// Items are keyed "<credential key>/<protocol>", falling back to the bare
// credential key so a single secret can serve both protocols.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the system keyring
func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	if cfg.FileDir == "" {
		cfg.FileDir = "~/.config/mailcore/credentials"
	}
	if cfg.FilePassword == "" {
		cfg.FilePassword = "mailcore-file-key"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewKeyring wraps an already opened keyring
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// Password returns the stored secret for the account
func (k *Keyring) Password(_ context.Context, acc *config.AccountConfig, proto Protocol) (string, error) {
	base := accountKey(acc)
	for _, key := range []string{base + "/" + string(proto), base} {
		item, err := k.ring.Get(key)
		if err == nil {
			return string(item.Data), nil
		}
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, err)
		}
	}
	return "", fmt.Errorf("%s password for account %s: %w", proto, acc.Name, ErrNotFound)
}

// Store saves a secret for the account; an empty proto stores the shared secret
func (k *Keyring) Store(acc *config.AccountConfig, proto Protocol, secret string) error {
	key := itemKey(acc, proto)
	label := acc.Name + " password"
	if proto != "" {
		label = fmt.Sprintf("%s %s password", acc.Name, proto)
	}
	err := k.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(secret),
		Label: label,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Remove deletes a stored secret
func (k *Keyring) Remove(acc *config.AccountConfig, proto Protocol) error {
	key := itemKey(acc, proto)
	if err := k.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

func accountKey(acc *config.AccountConfig) string {
	if acc.CredentialKey != "" {
		return acc.CredentialKey
	}
	return acc.Name
}

func itemKey(acc *config.AccountConfig, proto Protocol) string {
	if proto == "" {
		return accountKey(acc)
	}
	return accountKey(acc) + "/" + string(proto)
}
