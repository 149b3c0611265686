package tools

import (
	"context"
	"fmt"
)

// GetEmailTool retrieves a full email by UID
type GetEmailTool struct{ deps }

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Retrieve a fully decoded email by UID from cache or IMAP"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountProperty,
			"folder":  folderProperty,
			"uid":     uidProperty,
			"force_refresh": map[string]interface{}{
				"type":        "boolean",
				"description": "Re-fetch the message from the server, ignoring the cache",
			},
		},
		"required": []string{"uid"},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := t.account(params)
	if err != nil {
		return nil, err
	}
	uid, err := uidParam(params)
	if err != nil {
		return nil, err
	}

	email, err := t.service.GetEmail(ctx, accountID, folderParam(params), uid, boolParam(params, "force_refresh"))
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return email, nil
}
