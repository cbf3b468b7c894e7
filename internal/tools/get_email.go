package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/config"
	"github.com/brandon/mailcore/pkg/types"
)

// GetEmailTool retrieves a full email from the cache by ID, or live by folder and UID
type GetEmailTool struct {
	*deps
}

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Retrieve a full email by cache ID (from search results) or by folder and UID from IMAP"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "integer",
				"description": "Email ID (from search results)",
			},
			"account_name": accountProp(),
			"folder":       stringProp("Folder of the message when fetching by UID (default: INBOX)"),
			"uid":          stringProp("IMAP UID of the message (from list_emails)"),
		},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	emailID, hasID, err := params.Int("email_id")
	if err != nil {
		return nil, err
	}
	if hasID {
		return t.fromCache(emailID)
	}

	uid, err := params.RequireString("uid")
	if err != nil {
		return nil, fmt.Errorf("email_id or uid is required")
	}
	folder := params.String("folder")
	if folder == "" {
		folder = config.DefaultFolder
	}
	msg, err := t.emailManager.FetchContent(params.String("account_name"), folder, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return msg, nil
}

func (t *GetEmailTool) fromCache(emailID int64) (*types.Email, error) {
	cachedEmail, err := t.cacheStore.GetEmail(emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	if cachedEmail.BodyText == "" && cachedEmail.BodyHTML == "" {
		t.refetchBody(cachedEmail)
	}
	return cachedEmail, nil
}

// refetchBody fills an empty cached body from the server. Failures leave the cached copy as is.
func (t *GetEmailTool) refetchBody(cachedEmail *types.Email) {
	log := t.logger.WithFields(logrus.Fields{
		"email_id": cachedEmail.ID,
		"account":  cachedEmail.Account,
		"folder":   cachedEmail.Folder,
		"uid":      cachedEmail.UID,
	})
	log.Info("Email body is empty, re-fetching from IMAP")

	msg, err := t.emailManager.FetchContent(cachedEmail.Account, cachedEmail.Folder, cachedEmail.UID)
	if err != nil {
		log.WithError(err).Warn("Could not re-fetch email from IMAP")
		return
	}
	if msg.BodyText == "" && msg.BodyHTML == "" {
		return
	}

	cachedEmail.BodyText = msg.BodyText
	cachedEmail.BodyHTML = msg.BodyHTML
	if err := t.cacheStore.UpdateBody(cachedEmail.ID, msg.BodyText, msg.BodyHTML); err != nil {
		log.WithError(err).Warn("Could not update email in cache")
		return
	}
	log.Info("Successfully re-fetched and updated email")
}
