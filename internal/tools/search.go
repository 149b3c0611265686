package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailflow/internal/cache"
)

// SearchEmailsTool searches cached email summaries
type SearchEmailsTool struct{ deps }

// Name returns the tool name
func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *SearchEmailsTool) Description() string {
	return "Search cached email summaries by sender, subject or free text. Only folders fetched before are searched"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account": accountProperty,
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: restrict to one folder",
			},
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Free text matched against subject, sender and preview",
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Filter by sender substring",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Filter by subject substring",
			},
			"unread_only": map[string]interface{}{
				"type":        "boolean",
				"description": "Only return unread emails",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results (default: 100)",
			},
		},
	}
}

// Execute executes the tool
func (t *SearchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountID, err := t.account(params)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(params, "limit", 0)
	if err != nil {
		return nil, err
	}

	opts := cache.SearchOptions{
		AccountID:  accountID,
		Folder:     stringParam(params, "folder"),
		Sender:     stringParam(params, "sender"),
		Subject:    stringParam(params, "subject"),
		Text:       stringParam(params, "query"),
		UnreadOnly: boolParam(params, "unread_only"),
		Limit:      limit,
	}
	if opts.Sender == "" && opts.Subject == "" && opts.Text == "" && !opts.UnreadOnly {
		return nil, fmt.Errorf("at least one of query, sender, subject or unread_only is required")
	}

	results, err := t.service.Search(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	return map[string]interface{}{
		"account": accountID,
		"count":   len(results),
		"results": results,
	}, nil
}
