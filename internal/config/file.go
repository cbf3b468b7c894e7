package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// accountsFile is the YAML layout of ACCOUNTS_FILE
type accountsFile struct {
	Accounts []AccountConfig `yaml:"accounts"`
}

// loadAccountsFile reads account definitions from a YAML document
func loadAccountsFile(path string) ([]AccountConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file %s: %w", path, err)
	}

	var doc accountsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse accounts file %s: %w", path, err)
	}

	for i := range doc.Accounts {
		if doc.Accounts[i].Name == "" {
			return nil, fmt.Errorf("accounts file %s: entry %d has no name", path, i+1)
		}
	}

	return doc.Accounts, nil
}

// UnmarshalYAML decodes an account with TLS enabled unless the document says otherwise
func (a *AccountConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AccountConfig
	p := plain{IMAPTLS: true, SMTPTLS: true, POP3TLS: true}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = AccountConfig(p)
	return nil
}
