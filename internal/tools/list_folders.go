package tools

import (
	"context"
	"fmt"
)

// ListFoldersTool lists folders live from the server or from the cache
type ListFoldersTool struct {
	*deps
}

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List the folders of one or all accounts, live from IMAP or from the local cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Optional: Account name (lists every account when omitted)"),
			"cached": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Read folders and counts from the cache instead of the server",
			},
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	accountName := params.String("account_name")
	cached, _, err := params.Bool("cached")
	if err != nil {
		return nil, err
	}

	if cached {
		return t.fromCache(accountName)
	}

	accounts := t.emailManager.Accounts()
	if accountName != "" {
		accounts = []string{accountName}
	}

	result := make([]map[string]interface{}, 0, len(accounts))
	for _, name := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		folders, err := t.emailManager.ListFolders(name)
		entry := map[string]interface{}{
			"account_name": name,
			"folders":      folders,
		}
		if err != nil {
			// a failed LIST still reports INBOX
			if len(folders) == 0 {
				return nil, fmt.Errorf("failed to list folders for %s: %w", name, err)
			}
			entry["error"] = err.Error()
		}
		result = append(result, entry)
	}
	return result, nil
}

func (t *ListFoldersTool) fromCache(accountName string) (interface{}, error) {
	var accountID *int
	if accountName != "" {
		id, err := t.cacheStore.GetAccountID(accountName)
		if err != nil {
			return nil, err
		}
		accountID = &id
	}
	folders, err := t.cacheStore.ListFolders(accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}
