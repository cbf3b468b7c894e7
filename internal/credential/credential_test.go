package credential

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/config"
)

func TestStatic_Password(t *testing.T) {
	acc := &config.AccountConfig{Name: "work", IMAPPassword: "imap-secret"}
	p := NewStatic()

	pw, err := p.Password(context.Background(), acc, IMAP)
	require.NoError(t, err)
	assert.Equal(t, "imap-secret", pw)

	// SMTP falls back to the IMAP password
	pw, err = p.Password(context.Background(), acc, SMTP)
	require.NoError(t, err)
	assert.Equal(t, "imap-secret", pw)

	_, err = p.Password(context.Background(), &config.AccountConfig{Name: "empty"}, IMAP)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestKeyring_PasswordLookupOrder(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: "work", Data: []byte("shared")},
		{Key: "work/smtp", Data: []byte("smtp-only")},
	})
	k := NewKeyring(ring)
	acc := &config.AccountConfig{Name: "work"}

	pw, err := k.Password(context.Background(), acc, SMTP)
	require.NoError(t, err)
	assert.Equal(t, "smtp-only", pw)

	pw, err = k.Password(context.Background(), acc, IMAP)
	require.NoError(t, err)
	assert.Equal(t, "shared", pw)

	_, err = k.Password(context.Background(), &config.AccountConfig{Name: "other"}, IMAP)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestKeyring_StoreAndRemove(t *testing.T) {
	k := NewKeyring(keyring.NewArrayKeyring(nil))
	acc := &config.AccountConfig{Name: "home", CredentialKey: "home-key"}

	require.NoError(t, k.Store(acc, IMAP, "s3cret"))
	pw, err := k.Password(context.Background(), acc, IMAP)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	require.NoError(t, k.Remove(acc, IMAP))
	_, err = k.Password(context.Background(), acc, IMAP)
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var p Provider = Func(func(_ context.Context, acc *config.AccountConfig, proto Protocol) (string, error) {
		return acc.Name + ":" + string(proto), nil
	})
	pw, err := p.Password(context.Background(), &config.AccountConfig{Name: "a"}, IMAP)
	require.NoError(t, err)
	assert.Equal(t, "a:imap", pw)
}
