package tools

import (
	"context"
	"fmt"
)

func messageSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"account": accountProperty,
		"folder":  folderProperty,
		"uid":     uidProperty,
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   append([]string{"uid"}, required...),
	}
}

// target is the message a mutating tool acts on.
type target struct {
	account string
	folder  string
	uid     uint32
}

func (d deps) target(params map[string]interface{}) (target, error) {
	accountID, err := d.account(params)
	if err != nil {
		return target{}, err
	}
	uid, err := uidParam(params)
	if err != nil {
		return target{}, err
	}
	return target{account: accountID, folder: folderParam(params), uid: uid}, nil
}

func (t target) result(extra ...interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"success": true,
		"account": t.account,
		"folder":  t.folder,
		"uid":     t.uid,
	}
	for i := 0; i+1 < len(extra); i += 2 {
		out[extra[i].(string)] = extra[i+1]
	}
	return out
}

// MarkReadTool flags an email as read
type MarkReadTool struct{ deps }

// Name returns the tool name
func (t *MarkReadTool) Name() string {
	return "mark_read"
}

// Description returns the tool description
func (t *MarkReadTool) Description() string {
	return "Mark an email as read"
}

// InputSchema returns the JSON schema for tool inputs
func (t *MarkReadTool) InputSchema() map[string]interface{} {
	return messageSchema(nil)
}

// Execute executes the tool
func (t *MarkReadTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tg, err := t.target(params)
	if err != nil {
		return nil, err
	}
	if err := t.service.MarkRead(ctx, tg.account, tg.folder, tg.uid); err != nil {
		return nil, fmt.Errorf("failed to mark email as read: %w", err)
	}
	return tg.result(), nil
}

// DeleteEmailTool permanently deletes an email
type DeleteEmailTool struct{ deps }

// Name returns the tool name
func (t *DeleteEmailTool) Name() string {
	return "delete_email"
}

// Description returns the tool description
func (t *DeleteEmailTool) Description() string {
	return "Permanently delete an email (flag \\Deleted and expunge)"
}

// InputSchema returns the JSON schema for tool inputs
func (t *DeleteEmailTool) InputSchema() map[string]interface{} {
	return messageSchema(nil)
}

// Execute executes the tool
func (t *DeleteEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tg, err := t.target(params)
	if err != nil {
		return nil, err
	}
	if err := t.service.DeleteEmail(ctx, tg.account, tg.folder, tg.uid); err != nil {
		return nil, fmt.Errorf("failed to delete email: %w", err)
	}
	return tg.result(), nil
}

// MoveEmailTool moves an email to another folder
type MoveEmailTool struct{ deps }

// Name returns the tool name
func (t *MoveEmailTool) Name() string {
	return "move_email"
}

// Description returns the tool description
func (t *MoveEmailTool) Description() string {
	return "Move an email to another folder"
}

// InputSchema returns the JSON schema for tool inputs
func (t *MoveEmailTool) InputSchema() map[string]interface{} {
	return messageSchema(map[string]interface{}{
		"destination": map[string]interface{}{
			"type":        "string",
			"description": "Destination folder name",
		},
	}, "destination")
}

// Execute executes the tool
func (t *MoveEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tg, err := t.target(params)
	if err != nil {
		return nil, err
	}
	dest := stringParam(params, "destination")
	if dest == "" {
		return nil, fmt.Errorf("destination is required")
	}
	if dest == tg.folder {
		return nil, fmt.Errorf("destination must differ from folder")
	}
	if err := t.service.MoveEmail(ctx, tg.account, tg.folder, tg.uid, dest); err != nil {
		return nil, fmt.Errorf("failed to move email: %w", err)
	}
	return tg.result("destination", dest), nil
}
