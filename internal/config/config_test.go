package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv clears every variable the loader reads and restores them after the test
func isolateEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"ENV_FILE", "ACCOUNTS_FILE", "ACCOUNT_NAME", "SYNC_LIMIT", "CACHE_PATH",
		"SEARCH_RESULT_LIMIT", "CREDENTIAL_BACKEND",
	}
	for _, prefix := range []string{"", "ACCOUNT_1_", "ACCOUNT_2_"} {
		for _, k := range []string{
			"NAME", "EMAIL_ADDRESS", "DISPLAY_NAME",
			"IMAP_HOST", "IMAP_PORT", "IMAP_TLS", "IMAP_USERNAME", "IMAP_PASSWORD", "IMAP_AUTH",
			"SMTP_HOST", "SMTP_PORT", "SMTP_TLS", "SMTP_USERNAME", "SMTP_PASSWORD",
			"POP3_HOST", "POP3_PORT", "POP3_TLS", "CREDENTIAL_KEY",
		} {
			keys = append(keys, prefix+k)
		}
	}
	for _, k := range keys {
		if prev, ok := os.LookupEnv(k); ok {
			t.Cleanup(func() { os.Setenv(k, prev) })
		} else {
			t.Cleanup(func() { os.Unsetenv(k) })
		}
		os.Unsetenv(k)
	}
	os.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadConfig_SingleAccountDefaults(t *testing.T) {
	isolateEnv(t)
	os.Setenv("IMAP_HOST", "imap.one.com")
	os.Setenv("SMTP_HOST", "send.one.com")
	os.Setenv("IMAP_USERNAME", "me@one.com")
	os.Setenv("IMAP_PASSWORD", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)

	acc := cfg.Accounts[0]
	assert.Equal(t, "default", acc.Name)
	assert.Equal(t, 993, acc.IMAPPort)
	assert.True(t, acc.IMAPTLS)
	assert.Equal(t, 465, acc.SMTPPort)
	assert.Equal(t, "me@one.com", acc.SMTPUsername)
	assert.Equal(t, "secret", acc.SMTPPassword)
	assert.Equal(t, "me@one.com", acc.EmailAddress)
	assert.Equal(t, "default", acc.CredentialKey)
	assert.Equal(t, DefaultSyncLimit, cfg.SyncLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("IMAP_HOST=imap.example.com\nSMTP_HOST=smtp.example.com\nIMAP_USERNAME=bob@example.com\n"), 0600))
	os.Setenv("ENV_FILE", envPath)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", cfg.Accounts[0].IMAPHost)
	assert.Equal(t, "bob@example.com", cfg.Accounts[0].EmailAddress)
}

func TestLoadConfig_AccountsFileMergedWithEnv(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.yaml")
	doc := `accounts:
  - name: work
    email_address: me@work.example
    display_name: Me At Work
    imap_host: imap.work.example
    imap_username: me
    smtp_host: smtp.work.example
    smtp_port: 587
  - name: home
    email_address: me@home.example
    imap_host: imap.home.example
    imap_username: me@home.example
    smtp_host: smtp.home.example
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	os.Setenv("ACCOUNTS_FILE", path)

	os.Setenv("ACCOUNT_1_NAME", "home")
	os.Setenv("ACCOUNT_1_IMAP_HOST", "imap.override.example")
	os.Setenv("ACCOUNT_1_SMTP_HOST", "smtp.override.example")
	os.Setenv("ACCOUNT_1_IMAP_USERNAME", "me@home.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"work", "home"}, cfg.AccountNames())

	work, err := cfg.GetAccountByName("work")
	require.NoError(t, err)
	assert.Equal(t, 993, work.IMAPPort)
	assert.True(t, work.IMAPTLS)
	assert.Equal(t, 587, work.SMTPPort)
	assert.Equal(t, "Me At Work", work.DisplayName)

	home, err := cfg.GetAccountByName("home")
	require.NoError(t, err)
	assert.Equal(t, "imap.override.example", home.IMAPHost)
}

func TestLoadConfig_NoAccounts(t *testing.T) {
	isolateEnv(t)
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CachePath:         "/tmp/cache.db",
			SearchResultLimit: 100,
			SyncLimit:         50,
			CredentialBackend: CredentialBackendStatic,
			Accounts: []AccountConfig{{
				Name:         "default",
				EmailAddress: "me@example.com",
				IMAPHost:     "imap.example.com",
				IMAPPort:     993,
				SMTPHost:     "smtp.example.com",
				SMTPPort:     465,
			}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad sync limit", mutate: func(c *Config) { c.SyncLimit = 0 }, wantErr: true},
		{name: "bad backend", mutate: func(c *Config) { c.CredentialBackend = "vault" }, wantErr: true},
		{name: "missing address", mutate: func(c *Config) { c.Accounts[0].EmailAddress = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *Config) { c.Accounts[0].IMAPPort = 70000 }, wantErr: true},
		{name: "bad auth", mutate: func(c *Config) { c.Accounts[0].IMAPAuth = "xoauth2" }, wantErr: true},
		{name: "duplicate", mutate: func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveAccount(t *testing.T) {
	cfg := &Config{Accounts: []AccountConfig{{Name: "work"}, {Name: "default"}}}

	acc, err := cfg.ResolveAccount("")
	require.NoError(t, err)
	assert.Equal(t, "default", acc.Name)

	acc, err = cfg.ResolveAccount("work")
	require.NoError(t, err)
	assert.Equal(t, "work", acc.Name)

	_, err = cfg.ResolveAccount("nope")
	assert.Error(t, err)
}
