// Package syncer keeps the local summary cache consistent with the server.
// A folder is fully re-fetched when nothing is cached for it or its
// UIDVALIDITY changed; otherwise only UIDs above the last synced one are
// fetched and merged at the head of the cached list.
package syncer

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brandon/mailflow/internal/cache"
	"github.com/brandon/mailflow/pkg/types"
)

// DefaultTTL is how long a cached list is served without asking the server.
const DefaultTTL = 5 * time.Minute

// DefaultLimit is the page size used when a request names none.
const DefaultLimit = 50

// Mailbox is the live server side of the engine.
type Mailbox interface {
	ListFolders(ctx context.Context, accountID string) ([]string, error)
	FolderStatus(ctx context.Context, accountID, folder string) (types.FolderStatus, error)
	FetchSummaries(ctx context.Context, accountID, folder string, limit, offset int) ([]types.EmailSummary, error)
	FetchNewSummaries(ctx context.Context, accountID, folder string, sinceUID uint32, limit int) ([]types.EmailSummary, error)
	FetchDetail(ctx context.Context, accountID, folder string, uid uint32) (types.Email, error)
	MarkRead(ctx context.Context, accountID, folder string, uid uint32) error
	Delete(ctx context.Context, accountID, folder string, uid uint32) error
	Move(ctx context.Context, accountID, folder string, uid uint32, dest string) error
}

// Store is the local cache. Its failures are never fatal to an operation.
type Store interface {
	GetSyncState(ctx context.Context, accountID, folder string) (*types.FolderSyncState, error)
	SaveSyncState(ctx context.Context, state types.FolderSyncState) error
	GetEmailList(ctx context.Context, accountID, folder string) (*types.CachedEmailList, error)
	SaveEmailList(ctx context.Context, list types.CachedEmailList) error
	GetEmailDetail(ctx context.Context, accountID, folder string, uid uint32) (*types.Email, error)
	SaveEmailDetail(ctx context.Context, accountID, folder string, email types.Email) error
	ClearFolder(ctx context.Context, accountID, folder string) error
	UpdateReadFlag(ctx context.Context, accountID, folder string, uid uint32, read bool) error
	Search(ctx context.Context, opts cache.SearchOptions) ([]cache.SearchResult, error)
}

// Options configures an Engine.
type Options struct {
	TTL         time.Duration
	Concurrency int
}

// Engine decides between cache, incremental and full fetches. Syncs of
// one (account, folder) pair are serialized; different folders proceed in
// parallel.
type Engine struct {
	mailbox     Mailbox
	store       Store
	ttl         time.Duration
	concurrency int
	locks       keyedMutex
	now         func() time.Time
	logger      *logrus.Logger
}

// New creates a sync engine
func New(mailbox Mailbox, store Store, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Engine{
		mailbox:     mailbox,
		store:       store,
		ttl:         opts.TTL,
		concurrency: opts.Concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// SetLogger sets the logger for the engine
func (e *Engine) SetLogger(logger *logrus.Logger) {
	e.logger = logger
}

// FetchRequest selects a page of a folder.
type FetchRequest struct {
	AccountID    string
	Folder       string
	Limit        int
	Offset       int
	ForceRefresh bool
}

// FetchEmails returns a newest-first page of summaries
func (e *Engine) FetchEmails(ctx context.Context, req FetchRequest) ([]types.EmailSummary, error) {
	return e.fetch(ctx, req, true)
}

func (e *Engine) fetch(ctx context.Context, req FetchRequest, useTTL bool) ([]types.EmailSummary, error) {
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	unlock := e.locks.Lock(cache.ListKey(req.AccountID, req.Folder))
	defer unlock()

	log := e.logger.WithFields(logrus.Fields{"account": req.AccountID, "folder": req.Folder})

	list, err := e.store.GetEmailList(ctx, req.AccountID, req.Folder)
	if err != nil {
		log.WithError(err).Warn("Failed to read cached email list")
		list = nil
	}

	if useTTL && !req.ForceRefresh && list != nil && e.now().Unix()-list.LastUpdated < int64(e.ttl/time.Second) {
		if page := list.Page(req.Offset, req.Limit); len(page) > 0 {
			log.WithField("count", len(page)).Debug("Serving email list from cache")
			return page, nil
		}
	}

	state, err := e.store.GetSyncState(ctx, req.AccountID, req.Folder)
	if err != nil {
		log.WithError(err).Warn("Failed to read sync state")
		state = nil
	}

	status, err := e.mailbox.FolderStatus(ctx, req.AccountID, req.Folder)
	if err != nil {
		return nil, err
	}

	switch {
	case req.ForceRefresh, state == nil, list == nil:
		return e.fullSync(ctx, log, req, status)
	case state.UIDValidity != status.UIDValidity:
		log.WithFields(logrus.Fields{"cached": state.UIDValidity, "server": status.UIDValidity}).Info("UIDVALIDITY changed, resyncing folder")
		// cached details belong to the old UID namespace
		if err := e.store.ClearFolder(ctx, req.AccountID, req.Folder); err != nil {
			log.WithError(err).Warn("Failed to clear folder cache")
		}
		return e.fullSync(ctx, log, req, status)
	}

	// uid_next == 0 means the server did not report UIDNEXT
	if status.UIDNext != 0 && status.UIDNext <= state.LastUID+1 {
		if !covers(list.Emails, req, status) {
			return e.fullSync(ctx, log, req, status)
		}
		log.Debug("No new messages, serving email list from cache")
		return list.Page(req.Offset, req.Limit), nil
	}
	return e.incrementalSync(ctx, log, req, status, state, list)
}

// covers reports whether a cached list can serve the requested page: it
// reaches past the page or already holds every message of the folder.
func covers(emails []types.EmailSummary, req FetchRequest, status types.FolderStatus) bool {
	return len(emails) >= req.Offset+req.Limit || uint32(len(emails)) >= status.Messages
}

// fullSync re-fetches everything up to the requested page and replaces
// the cached list.
func (e *Engine) fullSync(ctx context.Context, log *logrus.Entry, req FetchRequest, status types.FolderStatus) ([]types.EmailSummary, error) {
	emails, err := e.mailbox.FetchSummaries(ctx, req.AccountID, req.Folder, req.Offset+req.Limit, 0)
	if err != nil {
		return nil, err
	}

	e.save(ctx, log, req, status.UIDValidity, maxUID(emails, 0), emails)
	log.WithField("count", len(emails)).Info("Full folder sync")
	return types.Page(emails, req.Offset, req.Limit), nil
}

// incrementalSync fetches UIDs above the last synced one and merges them
// at the head of the cached list.
func (e *Engine) incrementalSync(ctx context.Context, log *logrus.Entry, req FetchRequest, status types.FolderStatus, state *types.FolderSyncState, list *types.CachedEmailList) ([]types.EmailSummary, error) {
	bound := req.Offset + req.Limit
	fresh, err := e.mailbox.FetchNewSummaries(ctx, req.AccountID, req.Folder, state.LastUID, bound)
	if err != nil {
		return nil, err
	}

	var emails []types.EmailSummary
	if len(fresh) >= bound {
		// more new mail than fits the page: the fetched UIDs are the newest
		// of the folder, the same result a full sync would produce
		emails = fresh
	} else {
		emails = merge(list.Emails, fresh)
		if !covers(emails, req, status) {
			return e.fullSync(ctx, log, req, status)
		}
	}

	e.save(ctx, log, req, status.UIDValidity, maxUID(fresh, state.LastUID), emails)
	log.WithField("count", len(fresh)).Info("Incremental folder sync")
	return types.Page(emails, req.Offset, req.Limit), nil
}

// save persists the list and the sync state. Failures are logged only.
func (e *Engine) save(ctx context.Context, log *logrus.Entry, req FetchRequest, uidValidity, lastUID uint32, emails []types.EmailSummary) {
	now := e.now().Unix()
	err := e.store.SaveEmailList(ctx, types.CachedEmailList{
		AccountID:   req.AccountID,
		Folder:      req.Folder,
		Emails:      emails,
		LastUpdated: now,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to cache email list")
	}

	err = e.store.SaveSyncState(ctx, types.FolderSyncState{
		AccountID:    req.AccountID,
		Folder:       req.Folder,
		LastUID:      lastUID,
		UIDValidity:  uidValidity,
		LastSyncTime: now,
	})
	if err != nil {
		log.WithError(err).Warn("Failed to save sync state")
	}
}

// merge puts fresh summaries in front of cached ones, dropping UIDs
// already cached, and keeps the list newest-first.
func merge(cached, fresh []types.EmailSummary) []types.EmailSummary {
	seen := make(map[uint32]bool, len(cached))
	for _, s := range cached {
		seen[s.UID] = true
	}

	out := make([]types.EmailSummary, 0, len(cached)+len(fresh))
	for _, s := range fresh {
		if !seen[s.UID] {
			seen[s.UID] = true
			out = append(out, s)
		}
	}
	out = append(out, cached...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UID > out[j].UID })
	return out
}

func maxUID(emails []types.EmailSummary, floor uint32) uint32 {
	for _, s := range emails {
		if s.UID > floor {
			floor = s.UID
		}
	}
	return floor
}

// GetEmail returns a decoded message, from the detail cache unless
// forceRefresh is set
func (e *Engine) GetEmail(ctx context.Context, accountID, folder string, uid uint32, forceRefresh bool) (types.Email, error) {
	log := e.logger.WithFields(logrus.Fields{"account": accountID, "folder": folder, "uid": uid})

	if !forceRefresh {
		cached, err := e.store.GetEmailDetail(ctx, accountID, folder, uid)
		if err != nil {
			log.WithError(err).Warn("Failed to read cached email")
		}
		if cached != nil {
			log.Debug("Serving email from cache")
			return *cached, nil
		}
	}

	email, err := e.mailbox.FetchDetail(ctx, accountID, folder, uid)
	if err != nil {
		return types.Email{}, err
	}
	if err := e.store.SaveEmailDetail(ctx, accountID, folder, email); err != nil {
		log.WithError(err).Warn("Failed to cache email")
	}
	return email, nil
}

// MarkRead flags a message \Seen on the server and in the cache
func (e *Engine) MarkRead(ctx context.Context, accountID, folder string, uid uint32) error {
	if err := e.mailbox.MarkRead(ctx, accountID, folder, uid); err != nil {
		return err
	}

	unlock := e.locks.Lock(cache.ListKey(accountID, folder))
	defer unlock()
	if err := e.store.UpdateReadFlag(ctx, accountID, folder, uid, true); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{"account": accountID, "folder": folder, "uid": uid}).Warn("Failed to update cached read flag")
	}
	return nil
}

// DeleteEmail deletes a message and clears the folder's cache
func (e *Engine) DeleteEmail(ctx context.Context, accountID, folder string, uid uint32) error {
	if err := e.mailbox.Delete(ctx, accountID, folder, uid); err != nil {
		return err
	}
	e.invalidate(ctx, accountID, folder)
	return nil
}

// MoveEmail moves a message and clears the caches of both folders
func (e *Engine) MoveEmail(ctx context.Context, accountID, folder string, uid uint32, dest string) error {
	if err := e.mailbox.Move(ctx, accountID, folder, uid, dest); err != nil {
		return err
	}
	e.invalidate(ctx, accountID, folder)
	e.invalidate(ctx, accountID, dest)
	return nil
}

// invalidate clears one folder's cache on a best-effort basis.
func (e *Engine) invalidate(ctx context.Context, accountID, folder string) {
	unlock := e.locks.Lock(cache.ListKey(accountID, folder))
	defer unlock()
	if err := e.store.ClearFolder(ctx, accountID, folder); err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{"account": accountID, "folder": folder}).Warn("Failed to clear folder cache")
	}
}

// ListFolders lists the selectable folders of an account
func (e *Engine) ListFolders(ctx context.Context, accountID string) ([]string, error) {
	return e.mailbox.ListFolders(ctx, accountID)
}

// Search searches cached summaries
func (e *Engine) Search(ctx context.Context, opts cache.SearchOptions) ([]cache.SearchResult, error) {
	return e.store.Search(ctx, opts)
}

// FolderResult is the outcome of syncing one folder.
type FolderResult struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// SyncFolders revalidates several folders of one account in parallel,
// bypassing the TTL gate. A failing folder does not stop the others.
func (e *Engine) SyncFolders(ctx context.Context, accountID string, folders []string, limit int) []FolderResult {
	results := make([]FolderResult, len(folders))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, folder := range folders {
		i, folder := i, folder
		g.Go(func() error {
			res := FolderResult{Folder: folder}
			emails, err := e.fetch(ctx, FetchRequest{AccountID: accountID, Folder: folder, Limit: limit}, false)
			if err != nil {
				res.Error = err.Error()
			}
			res.Count = len(emails)
			results[i] = res
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return results
}
