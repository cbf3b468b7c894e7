package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// DefaultFolder is selected when no folder is given and is the
	// fallback result of a folder listing
	DefaultFolder = "INBOX"

	// DefaultSyncLimit bounds the messages examined per folder sync
	DefaultSyncLimit = 50

	// CredentialBackendStatic and CredentialBackendKeyring select the credential provider
	CredentialBackendStatic  = "static"
	CredentialBackendKeyring = "keyring"
)

// Config holds the application configuration
type Config struct {
	// Cache settings
	CachePath         string
	SearchResultLimit int
	LogLevel          string

	// Sync settings
	SyncLimit int

	// Credentials
	CredentialBackend string
	KeyringDir        string

	// Accounts
	Accounts []AccountConfig
}

// AccountConfig holds configuration for a single email account
type AccountConfig struct {
	Name         string `yaml:"name"`
	EmailAddress string `yaml:"email_address"`
	DisplayName  string `yaml:"display_name"`

	// IMAP settings
	IMAPHost     string `yaml:"imap_host"`
	IMAPPort     int    `yaml:"imap_port"`
	IMAPTLS      bool   `yaml:"imap_tls"`
	IMAPUsername string `yaml:"imap_username"`
	IMAPPassword string `yaml:"imap_password"`
	IMAPAuth     string `yaml:"imap_auth"`

	// SMTP settings
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPTLS      bool   `yaml:"smtp_tls"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`

	// POP3 settings are carried for callers that manage them; nothing here dials POP3
	POP3Host string `yaml:"pop3_host"`
	POP3Port int    `yaml:"pop3_port"`
	POP3TLS  bool   `yaml:"pop3_tls"`

	// CredentialKey overrides the keyring lookup key (defaults to Name)
	CredentialKey string `yaml:"credential_key"`
}

// IMAPAddr returns host:port for the IMAP server
func (a *AccountConfig) IMAPAddr() string {
	return fmt.Sprintf("%s:%d", a.IMAPHost, a.IMAPPort)
}

// SMTPAddr returns host:port for the SMTP server
func (a *AccountConfig) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", a.SMTPHost, a.SMTPPort)
}

// LoadConfig loads configuration from an optional .env file, an optional
// YAML accounts file and environment variables, in that order of precedence
// (environment wins)
func LoadConfig() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	cfg := &Config{
		CachePath:         getEnv("CACHE_PATH", "/data/email_cache.db"),
		SearchResultLimit: getEnvInt("SEARCH_RESULT_LIMIT", 100),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SyncLimit:         getEnvInt("SYNC_LIMIT", DefaultSyncLimit),
		CredentialBackend: getEnv("CREDENTIAL_BACKEND", CredentialBackendStatic),
		KeyringDir:        getEnv("KEYRING_DIR", ""),
	}

	var accounts []AccountConfig
	if path := getEnv("ACCOUNTS_FILE", ""); path != "" {
		fileAccounts, err := loadAccountsFile(path)
		if err != nil {
			return nil, err
		}
		accounts = fileAccounts
	}

	envAccounts, err := loadAccounts()
	if err != nil && len(accounts) == 0 {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	accounts = mergeAccounts(accounts, envAccounts)

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no email accounts configured")
	}

	for i := range accounts {
		accounts[i].applyDefaults()
	}

	cfg.Accounts = accounts
	return cfg, nil
}

// mergeAccounts appends override accounts to base, replacing any base account with the same name
func mergeAccounts(base, override []AccountConfig) []AccountConfig {
	for _, acc := range override {
		replaced := false
		for i := range base {
			if base[i].Name == acc.Name {
				base[i] = acc
				replaced = true
				break
			}
		}
		if !replaced {
			base = append(base, acc)
		}
	}
	return base
}

// loadAccounts loads email account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	var accounts []AccountConfig

	// First, try single account configuration (for backward compatibility)
	if hasSingleAccount() {
		account, err := loadAccountFromEnv("", getEnv("ACCOUNT_NAME", "default"))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
		return accounts, nil
	}

	// Load multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := getEnv(prefix+"NAME", "")
		if name == "" {
			break
		}
		account, err := loadAccountFromEnv(prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts found in environment variables")
	}

	return accounts, nil
}

// hasSingleAccount checks if single account configuration exists
func hasSingleAccount() bool {
	return getEnv("IMAP_HOST", "") != "" && getEnv("SMTP_HOST", "") != ""
}

// loadAccountFromEnv reads one account from variables sharing prefix
func loadAccountFromEnv(prefix, name string) (*AccountConfig, error) {
	if name == "" {
		name = "default"
	}

	acc := &AccountConfig{
		Name:         name,
		EmailAddress: getEnv(prefix+"EMAIL_ADDRESS", ""),
		DisplayName:  getEnv(prefix+"DISPLAY_NAME", ""),

		IMAPHost:     getEnv(prefix+"IMAP_HOST", ""),
		IMAPPort:     getEnvInt(prefix+"IMAP_PORT", 993),
		IMAPTLS:      getEnvBool(prefix+"IMAP_TLS", true),
		IMAPUsername: getEnv(prefix+"IMAP_USERNAME", ""),
		IMAPPassword: getEnv(prefix+"IMAP_PASSWORD", ""),
		IMAPAuth:     getEnv(prefix+"IMAP_AUTH", "login"),

		SMTPHost:     getEnv(prefix+"SMTP_HOST", ""),
		SMTPPort:     getEnvInt(prefix+"SMTP_PORT", 465),
		SMTPTLS:      getEnvBool(prefix+"SMTP_TLS", true),
		SMTPUsername: getEnv(prefix+"SMTP_USERNAME", ""),
		SMTPPassword: getEnv(prefix+"SMTP_PASSWORD", ""),

		POP3Host: getEnv(prefix+"POP3_HOST", ""),
		POP3Port: getEnvInt(prefix+"POP3_PORT", 995),
		POP3TLS:  getEnvBool(prefix+"POP3_TLS", true),

		CredentialKey: getEnv(prefix+"CREDENTIAL_KEY", ""),
	}

	if acc.IMAPHost == "" || acc.SMTPHost == "" {
		return nil, fmt.Errorf("IMAP_HOST and SMTP_HOST are required")
	}

	if acc.IMAPUsername == "" {
		return nil, fmt.Errorf("IMAP_USERNAME is required")
	}

	return acc, nil
}

// applyDefaults fills in fields that can be derived from others
func (a *AccountConfig) applyDefaults() {
	if a.IMAPPort == 0 {
		a.IMAPPort = 993
	}
	if a.SMTPPort == 0 {
		a.SMTPPort = 465
	}
	if a.POP3Port == 0 {
		a.POP3Port = 995
	}
	if a.IMAPAuth == "" {
		a.IMAPAuth = "login"
	}
	if a.SMTPUsername == "" {
		a.SMTPUsername = a.IMAPUsername
	}
	if a.SMTPPassword == "" {
		a.SMTPPassword = a.IMAPPassword
	}
	if a.EmailAddress == "" && strings.Contains(a.IMAPUsername, "@") {
		a.EmailAddress = a.IMAPUsername
	}
	if a.CredentialKey == "" {
		a.CredentialKey = a.Name
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// GetDefaultAccount returns the first account (or default account if named "default")
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	// Try to find "default" account first
	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	// Return first account
	return &c.Accounts[0]
}

// ResolveAccount returns the named account, or the default one when name is empty
func (c *Config) ResolveAccount(name string) (*AccountConfig, error) {
	if name == "" {
		if acc := c.GetDefaultAccount(); acc != nil {
			return acc, nil
		}
		return nil, fmt.Errorf("no email accounts configured")
	}
	return c.GetAccountByName(name)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("SEARCH_RESULT_LIMIT must be between 1 and 1000")
	}

	if c.SyncLimit < 1 || c.SyncLimit > 500 {
		return fmt.Errorf("SYNC_LIMIT must be between 1 and 500")
	}

	switch c.CredentialBackend {
	case CredentialBackendStatic, CredentialBackendKeyring:
	default:
		return fmt.Errorf("unknown CREDENTIAL_BACKEND %q", c.CredentialBackend)
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if seen[acc.Name] {
			return fmt.Errorf("duplicate account name %s", acc.Name)
		}
		seen[acc.Name] = true

		if err := acc.Validate(); err != nil {
			return fmt.Errorf("account %s: %w", acc.Name, err)
		}
	}

	return nil
}

// Validate checks a single account's connection parameters
func (a *AccountConfig) Validate() error {
	if a.IMAPHost == "" {
		return fmt.Errorf("IMAP_HOST is required")
	}
	if a.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	if a.IMAPPort < 1 || a.IMAPPort > 65535 {
		return fmt.Errorf("invalid IMAP_PORT")
	}
	if a.SMTPPort < 1 || a.SMTPPort > 65535 {
		return fmt.Errorf("invalid SMTP_PORT")
	}
	if a.POP3Host != "" && (a.POP3Port < 1 || a.POP3Port > 65535) {
		return fmt.Errorf("invalid POP3_PORT")
	}
	if a.EmailAddress == "" {
		return fmt.Errorf("EMAIL_ADDRESS is required when the IMAP username is not an address")
	}
	switch a.IMAPAuth {
	case "", "login", "plain":
	default:
		return fmt.Errorf("unsupported IMAP_AUTH %q", a.IMAPAuth)
	}
	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
