package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/message"
	"github.com/brandon/mailcore/pkg/types"
)

// SearchEmailsTool searches cached emails
type SearchEmailsTool struct {
	*deps
}

// Name returns the tool name
func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *SearchEmailsTool) Description() string {
	return "Search cached emails with flexible filters (sender, recipient, subject, body, date range, unread) or a free-text query"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": stringProp("Optional: Filter by specific account"),
			"folder":       stringProp("Optional: Filter by folder/mailbox (requires account_name)"),
			"query":        stringProp("Optional: Free-text query over subject, sender and body. Other filters except account_name are ignored"),
			"sender":       stringProp("Optional: Filter by sender email/name"),
			"recipient":    stringProp("Optional: Filter by recipient email"),
			"subject":      stringProp("Optional: Filter by subject (substring match)"),
			"body":         stringProp("Optional: Filter by body content (full-text search)"),
			"unread": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: true for unread only, false for read only",
			},
			"date_from": stringProp("Optional: Start date (ISO 8601 format)"),
			"date_to":   stringProp("Optional: End date (ISO 8601 format)"),
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default: 100, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchEmailsTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	opts := cache.SearchOptions{}

	limit, _, err := params.Int("limit")
	if err != nil {
		return nil, err
	}
	opts.Limit = int(limit)
	if opts.Limit == 0 {
		opts.Limit = t.config.SearchResultLimit
	}

	if accountName := params.String("account_name"); accountName != "" {
		accountID, err := t.cacheStore.GetAccountID(accountName)
		if errors.Is(err, cache.ErrNotFound) {
			// never synced, so nothing can match
			return []map[string]interface{}{}, nil
		}
		if err != nil {
			return nil, err
		}
		opts.AccountID = &accountID

		if folder := params.String("folder"); folder != "" {
			folderID, err := t.cacheStore.GetFolderID(accountID, folder)
			if errors.Is(err, cache.ErrNotFound) {
				return []map[string]interface{}{}, nil
			}
			if err != nil {
				return nil, err
			}
			opts.FolderID = &folderID
		}
	} else if params.String("folder") != "" {
		return nil, fmt.Errorf("folder filter requires account_name")
	}

	if query := params.String("query"); query != "" {
		results, err := t.cacheStore.SearchFTS(query, opts.AccountID, opts.Limit)
		if err != nil {
			return nil, err
		}
		return summaries(results), nil
	}

	opts.Sender = optString(params, "sender")
	opts.Recipient = optString(params, "recipient")
	opts.Subject = optString(params, "subject")
	opts.Body = optString(params, "body")

	if unread, set, err := params.Bool("unread"); err != nil {
		return nil, err
	} else if set {
		opts.Unread = &unread
	}

	if opts.DateFrom, err = params.Time("date_from"); err != nil {
		return nil, err
	}
	if opts.DateTo, err = params.Time("date_to"); err != nil {
		return nil, err
	}

	results, err := t.cacheStore.Search(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	if len(results) == 0 && opts.AccountID != nil {
		t.warnIfEmpty(*opts.AccountID, params.String("account_name"))
	}
	return summaries(results), nil
}

// warnIfEmpty logs when an account is known but none of its mail is cached
func (t *SearchEmailsTool) warnIfEmpty(accountID int, accountName string) {
	has, err := t.cacheStore.HasEmails(accountID)
	if err != nil {
		t.logger.WithError(err).Debug("Could not count cached emails")
		return
	}
	if !has {
		t.logger.WithField("account", accountName).Warn("Account has no cached emails; run sync_folder first")
	}
}

func optString(params Params, name string) *string {
	if v := params.String(name); v != "" {
		return &v
	}
	return nil
}

// summaries converts search results to a JSON-serializable format
func summaries(results []types.EmailSummary) []map[string]interface{} {
	emailList := make([]map[string]interface{}, len(results))
	for i, email := range results {
		emailList[i] = map[string]interface{}{
			"id":           email.ID,
			"account_name": email.AccountName,
			"folder_path":  email.FolderPath,
			"uid":          email.UID,
			"message_id":   email.MessageID,
			"subject":      email.Subject,
			"sender_name":  email.SenderName,
			"sender_email": email.SenderEmail,
			"date":         email.Date.Format(time.RFC3339),
			"read":         email.Read,
			"synthetic":    message.IsSynthetic(email.MessageID),
			"snippet":      email.Snippet,
		}
	}
	return emailList
}
