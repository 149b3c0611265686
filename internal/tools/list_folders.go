package tools

import (
	"context"
	"fmt"
)

// ListAccountsTool lists the configured accounts
type ListAccountsTool struct{ deps }

// Name returns the tool name
func (t *ListAccountsTool) Name() string {
	return "list_accounts"
}

// Description returns the tool description
func (t *ListAccountsTool) Description() string {
	return "List configured email accounts"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListAccountsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

// Execute executes the tool
func (t *ListAccountsTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	result := make([]map[string]interface{}, 0, len(t.config.Accounts))
	for i := range t.config.Accounts {
		acc := &t.config.Accounts[i]
		a, err := acc.Account()
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acc.ID, err)
		}
		result = append(result, map[string]interface{}{
			"id":        a.ID,
			"name":      a.Name,
			"email":     a.Email,
			"imap_host": a.IMAPHost,
			"profile":   a.EffectiveProfile(),
		})
	}
	return result, nil
}

// ListFoldersTool lists available email folders
type ListFoldersTool struct{ deps }

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List selectable mailboxes/folders of an email account"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountProperty,
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := t.account(params)
	if err != nil {
		return nil, err
	}

	folders, err := t.service.ListFolders(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return map[string]interface{}{
		"account": accountID,
		"folders": folders,
	}, nil
}
