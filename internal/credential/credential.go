// Package credential supplies account passwords to the protocol clients.
// Providers are constructed by the caller and passed into sessions; nothing
// in this module keeps secrets in package state.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/brandon/mailcore/internal/config"
)

// Protocol names the server a credential is requested for
type Protocol string

const (
	IMAP Protocol = "imap"
	SMTP Protocol = "smtp"
)

// ErrNotFound is returned when a provider holds no secret for the account
var ErrNotFound = errors.New("credential not found")

// Provider resolves the password for an account and protocol
type Provider interface {
	Password(ctx context.Context, acc *config.AccountConfig, proto Protocol) (string, error)
}

// Static serves the passwords present in the account configuration
type Static struct{}

// NewStatic returns a provider reading passwords from AccountConfig
func NewStatic() *Static {
	return &Static{}
}

// Password returns the configured password for proto
func (s *Static) Password(_ context.Context, acc *config.AccountConfig, proto Protocol) (string, error) {
	var password string
	switch proto {
	case IMAP:
		password = acc.IMAPPassword
	case SMTP:
		password = acc.SMTPPassword
		if password == "" {
			password = acc.IMAPPassword
		}
	default:
		return "", fmt.Errorf("unknown protocol %q", proto)
	}
	if password == "" {
		return "", fmt.Errorf("%s password for account %s: %w", proto, acc.Name, ErrNotFound)
	}
	return password, nil
}

// Func adapts an ordinary function to Provider
type Func func(ctx context.Context, acc *config.AccountConfig, proto Protocol) (string, error)

// Password calls f
func (f Func) Password(ctx context.Context, acc *config.AccountConfig, proto Protocol) (string, error) {
	return f(ctx, acc, proto)
}

// New builds the provider selected by cfg.CredentialBackend
func New(cfg *config.Config) (Provider, error) {
	switch cfg.CredentialBackend {
	case "", config.CredentialBackendStatic:
		return NewStatic(), nil
	case config.CredentialBackendKeyring:
		return OpenKeyring(KeyringConfig{FileDir: cfg.KeyringDir})
	default:
		return nil, fmt.Errorf("unknown credential backend %q", cfg.CredentialBackend)
	}
}
