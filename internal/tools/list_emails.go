package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/brandon/mailcore/internal/config"
)

// ListEmailsTool lists the newest envelopes of a folder straight from IMAP
type ListEmailsTool struct {
	*deps
}

// Name returns the tool name
func (t *ListEmailsTool) Name() string {
	return "list_emails"
}

// Description returns the tool description
func (t *ListEmailsTool) Description() string {
	return "List the newest messages of a folder from the IMAP server, newest first"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProp(),
			"folder":       stringProp("Optional: Folder to list (default: INBOX)"),
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Maximum number of messages (default: 50)",
				"minimum":     1,
			},
		},
	}
}

// Execute executes the tool
func (t *ListEmailsTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	folder := params.String("folder")
	if folder == "" {
		folder = config.DefaultFolder
	}
	limit, _, err := params.Int("limit")
	if err != nil {
		return nil, err
	}

	envelopes, err := t.emailManager.ListEnvelopes(params.String("account_name"), folder, int(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	emailList := make([]map[string]interface{}, len(envelopes))
	for i, env := range envelopes {
		emailList[i] = map[string]interface{}{
			"account_name": env.Account,
			"folder":       env.Folder,
			"uid":          env.UID,
			"message_id":   env.MessageID,
			"subject":      env.Subject,
			"from":         env.From.String(),
			"date":         env.Date.Format(time.RFC3339),
			"read":         env.Read,
			"size":         env.Size,
		}
	}
	return emailList, nil
}
