package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailcore/internal/config"
)

// MarkReadTool sets or clears the \Seen flag of a message
type MarkReadTool struct {
	*deps
}

// Name returns the tool name
func (t *MarkReadTool) Name() string {
	return "mark_read"
}

// Description returns the tool description
func (t *MarkReadTool) Description() string {
	return "Mark a message as read or unread on the server and in the cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *MarkReadTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProp(),
			"folder":       stringProp("Optional: Folder of the message (default: INBOX)"),
			"uid":          stringProp("IMAP UID of the message"),
			"read": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: true marks read, false marks unread (default: true)",
			},
		},
		"required": []string{"uid"},
	}
}

// Execute executes the tool
func (t *MarkReadTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	uid, err := params.RequireString("uid")
	if err != nil {
		return nil, err
	}
	read, set, err := params.Bool("read")
	if err != nil {
		return nil, err
	}
	if !set {
		read = true
	}
	folder := folderParam(params)

	if err := t.emailManager.SetRead(params.String("account_name"), folder, uid, read); err != nil {
		return nil, fmt.Errorf("failed to update read flag: %w", err)
	}
	return map[string]interface{}{
		"success": true,
		"folder":  folder,
		"uid":     uid,
		"read":    read,
	}, nil
}

// DeleteEmailTool deletes and expunges a message
type DeleteEmailTool struct {
	*deps
}

// Name returns the tool name
func (t *DeleteEmailTool) Name() string {
	return "delete_email"
}

// Description returns the tool description
func (t *DeleteEmailTool) Description() string {
	return "Permanently delete a message from the server and the cache"
}

// InputSchema returns the JSON schema for tool inputs
func (t *DeleteEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProp(),
			"folder":       stringProp("Optional: Folder of the message (default: INBOX)"),
			"uid":          stringProp("IMAP UID of the message"),
		},
		"required": []string{"uid"},
	}
}

// Execute executes the tool
func (t *DeleteEmailTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	uid, err := params.RequireString("uid")
	if err != nil {
		return nil, err
	}
	folder := folderParam(params)

	if err := t.emailManager.Delete(params.String("account_name"), folder, uid); err != nil {
		return nil, fmt.Errorf("failed to delete email: %w", err)
	}
	return map[string]interface{}{
		"success": true,
		"folder":  folder,
		"uid":     uid,
	}, nil
}

func folderParam(params Params) string {
	if f := params.String("folder"); f != "" {
		return f
	}
	return config.DefaultFolder
}
