package email

import (
	"fmt"
	"strings"
	"sync"

	"github.com/brandon/mailcore/internal/config"
)

// AccountManager resolves configured accounts and hands out per-folder locks
type AccountManager struct {
	accounts map[string]*config.AccountConfig
	names    []string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAccountManager creates a new account manager
func NewAccountManager(cfg *config.Config) (*AccountManager, error) {
	manager := &AccountManager{
		accounts: make(map[string]*config.AccountConfig),
		locks:    make(map[string]*sync.Mutex),
	}

	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		if _, exists := manager.accounts[accCfg.Name]; exists {
			return nil, fmt.Errorf("duplicate account name: %s", accCfg.Name)
		}
		manager.accounts[accCfg.Name] = accCfg
		manager.names = append(manager.names, accCfg.Name)
	}

	return manager, nil
}

// GetAccount returns an account by name. An empty name selects the first configured account.
func (m *AccountManager) GetAccount(name string) (*config.AccountConfig, error) {
	if name == "" {
		if len(m.names) == 0 {
			return nil, fmt.Errorf("no accounts configured")
		}
		return m.accounts[m.names[0]], nil
	}
	account, exists := m.accounts[name]
	if !exists {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// ListAccounts returns all account names in configuration order
func (m *AccountManager) ListAccounts() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// lockFolder blocks until the caller holds the lock for (account, folder)
// and returns the matching unlock.
func (m *AccountManager) lockFolder(account, folder string) func() {
	key := account + "\x00" + strings.ToLower(folder)

	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
