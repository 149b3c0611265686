package email

import (
	"fmt"
	"sort"

	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/pkg/types"
)

// AccountManager is the account directory
type AccountManager struct {
	accounts map[string]types.Account
	byName   map[string]string
}

// NewAccountManager creates the account directory from configuration
func NewAccountManager(cfg *config.Config) (*AccountManager, error) {
	manager := &AccountManager{
		accounts: make(map[string]types.Account),
		byName:   make(map[string]string),
	}

	for i := range cfg.Accounts {
		account, err := cfg.Accounts[i].Account()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", cfg.Accounts[i].ID, err)
		}
		manager.Add(account)
	}

	return manager, nil
}

// Add registers or replaces an account
func (m *AccountManager) Add(account types.Account) {
	m.accounts[account.ID] = account
	if account.Name != "" {
		m.byName[account.Name] = account.ID
	}
}

// GetAccount returns an account by ID or name
func (m *AccountManager) GetAccount(idOrName string) (types.Account, bool) {
	if account, ok := m.accounts[idOrName]; ok {
		return account, true
	}
	if id, ok := m.byName[idOrName]; ok {
		account, ok := m.accounts[id]
		return account, ok
	}
	return types.Account{}, false
}

// ListAccounts returns all account IDs, sorted
func (m *AccountManager) ListAccounts() []string {
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
