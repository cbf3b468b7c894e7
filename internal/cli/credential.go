package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/internal/credential"
)

// ringFunc loads the configuration and opens the keyring credentials are kept in
type ringFunc func() (*config.Config, *credential.Keyring, error)

func openRingFromEnv() (*config.Config, *credential.Keyring, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ring, err := credential.OpenKeyring(credential.KeyringConfig{FileDir: cfg.KeyringDir})
	if err != nil {
		return nil, nil, err
	}
	return cfg, ring, nil
}

func (a *app) credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage passwords kept in the system keyring (CREDENTIAL_BACKEND=keyring)",
	}
	cmd.AddCommand(a.credentialSetCmd(), a.credentialRemoveCmd())
	return cmd
}

func (a *app) credentialSetCmd() *cobra.Command {
	var proto string
	cmd := &cobra.Command{
		Use:   "set [account]",
		Short: "Store a password read from stdin",
		Long: "Store the first line of stdin as the account password. Without --protocol\n" +
			"the secret is shared by IMAP and SMTP.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProtocol(proto)
			if err != nil {
				return err
			}
			secret, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			secret = strings.TrimRight(secret, "\r\n")
			if secret == "" {
				if err != nil {
					return fmt.Errorf("reading password from stdin: %w", err)
				}
				return fmt.Errorf("empty password")
			}

			return a.withKeyring(args, func(acc *config.AccountConfig, ring *credential.Keyring) error {
				if err := ring.Store(acc, p, secret); err != nil {
					return err
				}
				return a.done(cmd, map[string]interface{}{"account": acc.Name, "protocol": string(p)})
			})
		},
	}
	cmd.Flags().StringVar(&proto, "protocol", "", "imap or smtp (default: shared by both)")
	return cmd
}

func (a *app) credentialRemoveCmd() *cobra.Command {
	var proto string
	cmd := &cobra.Command{
		Use:   "remove [account]",
		Short: "Delete a stored password",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProtocol(proto)
			if err != nil {
				return err
			}
			return a.withKeyring(args, func(acc *config.AccountConfig, ring *credential.Keyring) error {
				if err := ring.Remove(acc, p); err != nil {
					return err
				}
				return a.done(cmd, map[string]interface{}{"account": acc.Name, "protocol": string(p), "removed": true})
			})
		},
	}
	cmd.Flags().StringVar(&proto, "protocol", "", "imap or smtp (default: the shared secret)")
	return cmd
}

// withKeyring resolves the account named by args or --account and opens the keyring
func (a *app) withKeyring(args []string, fn func(*config.AccountConfig, *credential.Keyring) error) error {
	cfg, ring, err := a.ring()
	if err != nil {
		return err
	}
	name := a.account
	if len(args) == 1 {
		name = args[0]
	}
	acc, err := cfg.ResolveAccount(name)
	if err != nil {
		return err
	}
	if cfg.CredentialBackend != config.CredentialBackendKeyring {
		a.logger.Warnf("CREDENTIAL_BACKEND is %q; stored passwords are only read with %q",
			cfg.CredentialBackend, config.CredentialBackendKeyring)
	}
	return fn(acc, ring)
}

func parseProtocol(s string) (credential.Protocol, error) {
	switch p := credential.Protocol(strings.ToLower(s)); p {
	case "", credential.IMAP, credential.SMTP:
		return p, nil
	default:
		return "", fmt.Errorf("unknown protocol %q, want imap or smtp", s)
	}
}
