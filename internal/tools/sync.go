package tools

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/pkg/types"
)

// SyncFolderTool reconciles server folders into the local cache
type SyncFolderTool struct {
	*deps
}

// Name returns the tool name
func (t *SyncFolderTool) Name() string {
	return "sync_folder"
}

// Description returns the tool description
func (t *SyncFolderTool) Description() string {
	return "Sync the newest messages of a folder (or every folder) into the local cache and report new and changed messages"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncFolderTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": accountProp(),
			"folder":       stringProp("Optional: Folder to sync (syncs every folder when omitted)"),
		},
	}
}

// Execute executes the tool
func (t *SyncFolderTool) Execute(ctx context.Context, params Params) (interface{}, error) {
	accountName := params.String("account_name")
	folder := params.String("folder")

	results, err := t.emailManager.SyncAccount(ctx, accountName, folder)
	if err != nil && len(results) == 0 {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}

	summary := make([]map[string]interface{}, 0, len(results))
	for _, res := range results {
		t.logger.WithFields(logrus.Fields{
			"account": res.Account,
			"folder":  res.Folder,
			"new":     res.NewCount,
			"updated": res.UpdatedCount,
			"failed":  res.Failed,
		}).Info("Folder synced")

		summary = append(summary, map[string]interface{}{
			"account_name":  res.Account,
			"folder":        res.Folder,
			"new_count":     res.NewCount,
			"updated_count": res.UpdatedCount,
			"failed":        res.Failed,
			"new":           envelopes(res.New),
			"updated":       res.Updated,
			"synced_at":     res.SyncedAt,
		})
	}

	out := map[string]interface{}{"results": summary}
	if err != nil {
		out["error"] = err.Error()
	}
	return out, nil
}

// envelopes drops bodies from newly synced messages
func envelopes(msgs []types.Message) []types.Envelope {
	out := make([]types.Envelope, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Envelope
	}
	return out
}
