package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/pkg/types"
)

// DefaultDetailCacheSize is the number of decoded messages kept in memory.
const DefaultDetailCacheSize = 256

// ListKey is the key of a folder's summary list and sync state.
func ListKey(accountID, folder string) string {
	return accountID + ":" + folder
}

// DetailKey is the key of one cached message.
func DetailKey(accountID, folder string, uid uint32) string {
	return fmt.Sprintf("%s:%s:%d", accountID, folder, uid)
}

// detailKey indexes the in-memory front. Folder names may contain ':'
// so the parts are kept apart.
type detailKey struct {
	account string
	folder  string
	uid     uint32
}

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache   *Cache
	details *lru.Cache[detailKey, types.Email]
	logger  *logrus.Logger
}

// NewStore creates a new store instance. size bounds the in-memory front
// of the detail cache; values below one use DefaultDetailCacheSize.
func NewStore(cache *Cache, logger *logrus.Logger, size int) (*Store, error) {
	if logger == nil {
		logger = cache.logger
	}
	if size < 1 {
		size = DefaultDetailCacheSize
	}
	details, err := lru.New[detailKey, types.Email](size)
	if err != nil {
		return nil, &Error{Op: "open", Err: err}
	}
	return &Store{
		cache:   cache,
		details: details,
		logger:  logger,
	}, nil
}

type syncStateRow struct {
	Key string `db:"cache_key"`
	types.FolderSyncState
}

// GetSyncState returns the sync state of a folder, or nil if none is stored
func (s *Store) GetSyncState(ctx context.Context, accountID, folder string) (*types.FolderSyncState, error) {
	var row syncStateRow
	err := s.cache.DB().GetContext(ctx, &row, `
		SELECT cache_key, account_id, folder, last_uid, uid_validity, last_sync_time
		FROM sync_state WHERE cache_key = ?`, ListKey(accountID, folder))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get sync state", Err: err}
	}
	return &row.FolderSyncState, nil
}

// SaveSyncState upserts the sync state of a folder
func (s *Store) SaveSyncState(ctx context.Context, state types.FolderSyncState) error {
	row := syncStateRow{Key: ListKey(state.AccountID, state.Folder), FolderSyncState: state}
	_, err := s.cache.DB().NamedExecContext(ctx, `
		INSERT INTO sync_state (cache_key, account_id, folder, last_uid, uid_validity, last_sync_time)
		VALUES (:cache_key, :account_id, :folder, :last_uid, :uid_validity, :last_sync_time)
		ON CONFLICT(cache_key) DO UPDATE SET
			last_uid = excluded.last_uid,
			uid_validity = excluded.uid_validity,
			last_sync_time = excluded.last_sync_time`, row)
	if err != nil {
		return &Error{Op: "save sync state", Err: err}
	}
	return nil
}

// GetEmailList returns the cached summary list of a folder, or nil if
// none is stored
func (s *Store) GetEmailList(ctx context.Context, accountID, folder string) (*types.CachedEmailList, error) {
	var data string
	err := s.cache.DB().GetContext(ctx, &data,
		"SELECT data FROM email_lists WHERE cache_key = ?", ListKey(accountID, folder))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get email list", Err: err}
	}

	var list types.CachedEmailList
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, &Error{Op: "decode email list", Err: err}
	}
	if list.Emails == nil {
		list.Emails = []types.EmailSummary{}
	}
	return &list, nil
}

// SaveEmailList overwrites the cached summary list of a folder
func (s *Store) SaveEmailList(ctx context.Context, list types.CachedEmailList) error {
	if list.Emails == nil {
		list.Emails = []types.EmailSummary{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return &Error{Op: "encode email list", Err: err}
	}

	_, err = s.cache.DB().ExecContext(ctx, `
		INSERT INTO email_lists (cache_key, account_id, folder, data, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			data = excluded.data,
			last_updated = excluded.last_updated`,
		ListKey(list.AccountID, list.Folder), list.AccountID, list.Folder, string(data), list.LastUpdated)
	if err != nil {
		return &Error{Op: "save email list", Err: err}
	}
	return nil
}

// GetEmailDetail returns a cached message, or nil if it is not cached
func (s *Store) GetEmailDetail(ctx context.Context, accountID, folder string, uid uint32) (*types.Email, error) {
	key := detailKey{account: accountID, folder: folder, uid: uid}
	if email, ok := s.details.Get(key); ok {
		return &email, nil
	}

	var data string
	err := s.cache.DB().GetContext(ctx, &data,
		"SELECT data FROM email_details WHERE cache_key = ?", DetailKey(accountID, folder, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Op: "get email detail", Err: err}
	}

	var email types.Email
	if err := json.Unmarshal([]byte(data), &email); err != nil {
		return nil, &Error{Op: "decode email detail", Err: err}
	}
	s.details.Add(key, email)
	return &email, nil
}

// SaveEmailDetail upserts a decoded message
func (s *Store) SaveEmailDetail(ctx context.Context, accountID, folder string, email types.Email) error {
	data, err := json.Marshal(email)
	if err != nil {
		return &Error{Op: "encode email detail", Err: err}
	}

	_, err = s.cache.DB().ExecContext(ctx, `
		INSERT INTO email_details (cache_key, account_id, folder, uid, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			data = excluded.data,
			cached_at = CURRENT_TIMESTAMP`,
		DetailKey(accountID, folder, email.UID), accountID, folder, email.UID, string(data))
	if err != nil {
		return &Error{Op: "save email detail", Err: err}
	}
	s.details.Add(detailKey{account: accountID, folder: folder, uid: email.UID}, email)
	return nil
}

// ClearFolder drops the summary list, sync state and every cached detail
// of a folder
func (s *Store) ClearFolder(ctx context.Context, accountID, folder string) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return &Error{Op: "clear folder", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	key := ListKey(accountID, folder)
	stmts := []struct {
		query string
		args  []interface{}
	}{
		{"DELETE FROM email_lists WHERE cache_key = ?", []interface{}{key}},
		{"DELETE FROM sync_state WHERE cache_key = ?", []interface{}{key}},
		{"DELETE FROM email_details WHERE account_id = ? AND folder = ?", []interface{}{accountID, folder}},
	}
	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return &Error{Op: "clear folder", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &Error{Op: "clear folder", Err: err}
	}

	// after commit, so a concurrent read cannot repopulate a purged entry
	s.evictDetails(accountID, folder)
	s.logger.WithFields(logrus.Fields{"account": accountID, "folder": folder}).Debug("Cleared folder cache")
	return nil
}

func (s *Store) evictDetails(accountID, folder string) {
	for _, k := range s.details.Keys() {
		if k.account == accountID && k.folder == folder {
			s.details.Remove(k)
		}
	}
}

// UpdateReadFlag sets the read flag of one message in the cached summary
// list and the cached detail, whichever exist
func (s *Store) UpdateReadFlag(ctx context.Context, accountID, folder string, uid uint32, read bool) error {
	list, err := s.GetEmailList(ctx, accountID, folder)
	if err != nil {
		return err
	}
	if list != nil {
		for i := range list.Emails {
			if list.Emails[i].UID == uid {
				list.Emails[i].IsRead = read
				if err := s.SaveEmailList(ctx, *list); err != nil {
					return err
				}
				break
			}
		}
	}

	email, err := s.GetEmailDetail(ctx, accountID, folder, uid)
	if err != nil {
		return err
	}
	if email == nil {
		return nil
	}
	email.IsRead = read
	email.Flags = setFlag(email.Flags, `\Seen`, read)
	return s.SaveEmailDetail(ctx, accountID, folder, *email)
}

func setFlag(flags []string, flag string, on bool) []string {
	out := make([]string, 0, len(flags)+1)
	for _, f := range flags {
		if f != flag {
			out = append(out, f)
		}
	}
	if on {
		out = append(out, flag)
	}
	return out
}
