package tools

import (
	"context"
)

// TestConnectionTool probes the IMAP and SMTP servers of accounts
type TestConnectionTool struct {
	*deps
}

// Name returns the tool name
func (t *TestConnectionTool) Name() string {
	return "test_connection"
}

// Description returns the tool description
func (t *TestConnectionTool) Description() string {
	return "Check that the IMAP and SMTP servers of one or all accounts accept the configured credentials"
}

// InputSchema returns the JSON schema for tool inputs
func (t *TestConnectionTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Optional: Account name (tests every account when omitted)"),
		},
	}
}

// Execute executes the tool
func (t *TestConnectionTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	accounts := t.emailManager.Accounts()
	if name := params.String("account_name"); name != "" {
		accounts = []string{name}
	}

	reports := make([]interface{}, 0, len(accounts))
	for _, name := range accounts {
		report, err := t.emailManager.TestConnection(ctx, name)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
