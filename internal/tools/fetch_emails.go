package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailflow/internal/syncer"
)

// FetchEmailsTool returns a page of newest-first summaries
type FetchEmailsTool struct{ deps }

// Name returns the tool name
func (t *FetchEmailsTool) Name() string {
	return "fetch_emails"
}

// Description returns the tool description
func (t *FetchEmailsTool) Description() string {
	return "Fetch a newest-first page of email summaries from a folder, served from the local cache when fresh"
}

// InputSchema returns the JSON schema for tool inputs
func (t *FetchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountProperty,
			"folder":  folderProperty,
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Page size (default: configured page_size)",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "Number of newest messages to skip (default: 0)",
			},
			"force_refresh": map[string]interface{}{
				"type":        "boolean",
				"description": "Re-fetch the folder from the server, ignoring the cache",
			},
		},
	}
}

// Execute executes the tool
func (t *FetchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := t.account(params)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(params, "limit", t.config.PageSize)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		return nil, fmt.Errorf("limit must be between 1 and 1000")
	}
	offset, err := intParam(params, "offset", 0)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative")
	}

	folder := folderParam(params)
	emails, err := t.service.FetchEmails(ctx, syncer.FetchRequest{
		AccountID:    accountID,
		Folder:       folder,
		Limit:        limit,
		Offset:       offset,
		ForceRefresh: boolParam(params, "force_refresh"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch emails: %w", err)
	}

	return map[string]interface{}{
		"account": accountID,
		"folder":  folder,
		"count":   len(emails),
		"emails":  emails,
	}, nil
}

// SyncFoldersTool revalidates several folders at once
type SyncFoldersTool struct{ deps }

// Name returns the tool name
func (t *SyncFoldersTool) Name() string {
	return "sync_folders"
}

// Description returns the tool description
func (t *SyncFoldersTool) Description() string {
	return "Refresh the cached summaries of several folders of one account in parallel"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountProperty,
			"folders": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Folder names; all selectable folders if omitted",
			},
		},
	}
}

// Execute executes the tool
func (t *SyncFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := t.account(params)
	if err != nil {
		return nil, err
	}

	folders := stringsParam(params, "folders")
	if len(folders) == 0 {
		if folders, err = t.service.ListFolders(ctx, accountID); err != nil {
			return nil, fmt.Errorf("failed to list folders: %w", err)
		}
	}

	results := t.service.SyncFolders(ctx, accountID, folders, t.config.PageSize)
	t.logger.WithField("account", accountID).WithField("count", len(results)).Info("Synced folders")
	return map[string]interface{}{
		"account": accountID,
		"folders": results,
	}, nil
}
