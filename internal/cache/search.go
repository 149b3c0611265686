package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brandon/mailflow/pkg/types"
)

// SearchOptions contains search parameters. Empty fields do not filter.
type SearchOptions struct {
	AccountID string
	Folder    string
	Sender    string
	Subject   string
	// Text matches subject, sender or preview.
	Text       string
	UnreadOnly bool
	Limit      int
}

// SearchResult is one cached summary matching a search.
type SearchResult struct {
	Folder string `json:"folder"`
	types.EmailSummary
}

// Search performs a search on cached summaries
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	var conditions []string
	var args []interface{}

	// Build WHERE clause
	if opts.AccountID != "" {
		conditions = append(conditions, "l.account_id = ?")
		args = append(args, opts.AccountID)
	}

	if opts.Folder != "" {
		conditions = append(conditions, "l.folder = ?")
		args = append(args, opts.Folder)
	}

	if opts.Sender != "" {
		conditions = append(conditions, "json_extract(e.value, '$.from') LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(opts.Sender))
	}

	if opts.Subject != "" {
		conditions = append(conditions, "json_extract(e.value, '$.subject') LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(opts.Subject))
	}

	if opts.Text != "" {
		conditions = append(conditions, `(json_extract(e.value, '$.subject') LIKE ? ESCAPE '\'
			OR json_extract(e.value, '$.from') LIKE ? ESCAPE '\'
			OR json_extract(e.value, '$.preview') LIKE ? ESCAPE '\')`)
		p := likePattern(opts.Text)
		args = append(args, p, p, p)
	}

	if opts.UnreadOnly {
		conditions = append(conditions, "json_extract(e.value, '$.is_read') = 0")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Set default limit
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT l.folder AS folder, e.value AS data
		FROM email_lists l, json_each(l.data, '$.emails') e
		%s
		ORDER BY json_extract(e.value, '$.date') DESC, json_extract(e.value, '$.uid') DESC
		LIMIT ?
	`, whereClause)

	args = append(args, limit)

	var rows []struct {
		Folder string `db:"folder"`
		Data   string `db:"data"`
	}
	if err := s.cache.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, &Error{Op: "search", Err: err}
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		r := SearchResult{Folder: row.Folder}
		if err := json.Unmarshal([]byte(row.Data), &r.EmailSummary); err != nil {
			return nil, &Error{Op: "decode search result", Err: err}
		}
		results = append(results, r)
	}
	return results, nil
}

// likePattern builds a case-insensitive substring pattern, escaping LIKE
// metacharacters.
func likePattern(s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}
