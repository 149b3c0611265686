package email

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/parser"
	"github.com/brandon/mailflow/pkg/types"
)

// logoutTimeout bounds the LOGOUT sent after a cancelled operation.
const logoutTimeout = 10 * time.Second

// CredentialProvider supplies account passwords. A missing password is
// reported as ok == false.
type CredentialProvider interface {
	GetPassword(ctx context.Context, account types.Account) (password string, ok bool, err error)
}

// Manager runs mailbox operations. Every call opens its own session,
// selects the folder it needs and logs out before returning, on success
// and on failure alike.
type Manager struct {
	accounts    *AccountManager
	credentials CredentialProvider
	transports  TransportFactory
	parser      *parser.Parser
	preview     bool
	logger      *logrus.Logger
}

// NewManager creates a new session manager
func NewManager(accounts *AccountManager, credentials CredentialProvider, transports TransportFactory, p *parser.Parser, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if p == nil {
		p = parser.New(nil, logger)
	}
	return &Manager{
		accounts:    accounts,
		credentials: credentials,
		transports:  transports,
		parser:      p,
		preview:     true,
		logger:      logger,
	}
}

// SetPreview enables or disables summary previews
func (m *Manager) SetPreview(enabled bool) {
	m.preview = enabled
}

// Accounts returns the account directory
func (m *Manager) Accounts() *AccountManager {
	return m.accounts
}

// session is the state an operation runs with.
type session struct {
	account   types.Account
	transport Transport
	status    types.FolderStatus
	log       *logrus.Entry
}

// withSession connects, authenticates, selects folder (unless empty) and
// runs op. Logout is attempted on every path after the connection is up;
// a failed logout is logged and never replaces the operation's result.
func (m *Manager) withSession(ctx context.Context, accountID, folder string, readOnly bool, op func(s *session) error) (err error) {
	account, ok := m.accounts.GetAccount(accountID)
	if !ok {
		return &Error{Kind: KindNotFound, Op: "account", Msg: "unknown account " + accountID}
	}

	log := m.logger.WithFields(logrus.Fields{
		"session": uuid.NewString(),
		"account": account.ID,
		"profile": account.EffectiveProfile(),
	})
	if folder != "" {
		log = log.WithField("folder", folder)
	}

	password, ok, err := m.credentials.GetPassword(ctx, account)
	if err != nil {
		return &Error{Kind: KindAuth, Op: "credentials", Msg: "failed to read account password", Err: err}
	}
	if !ok {
		return &Error{Kind: KindAuth, Op: "credentials", Msg: "no password stored for account " + account.ID}
	}

	t := m.transports.New(account)
	if err := t.Connect(ctx); err != nil {
		t.Close() //nolint:errcheck
		log.WithError(err).Error("Failed to connect to IMAP server")
		return err
	}
	defer func() {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
		defer cancel()
		if lerr := t.Logout(lctx); lerr != nil {
			log.WithError(lerr).Warn("Failed to log out")
		}
		t.Close() //nolint:errcheck
	}()

	if err := t.Login(ctx, account.Email, password); err != nil {
		log.WithError(err).Error("Failed to authenticate")
		return err
	}

	s := &session{account: account, transport: t, log: log}
	if folder != "" {
		if s.status, err = t.Select(ctx, folder, readOnly); err != nil {
			return err
		}
	}
	return op(s)
}

// ListFolders lists selectable folder names, skipping empty, hidden and
// \Noselect entries
func (m *Manager) ListFolders(ctx context.Context, accountID string) ([]string, error) {
	var names []string
	err := m.withSession(ctx, accountID, "", true, func(s *session) error {
		mailboxes, err := s.transport.List(ctx)
		if err != nil {
			return err
		}
		for _, mb := range mailboxes {
			name := strings.TrimSpace(strings.ReplaceAll(mb.Name, `"`, ""))
			if name == "" || strings.HasPrefix(name, ".") || mb.HasAttribute(`\Noselect`) {
				continue
			}
			names = append(names, name)
		}
		s.log.WithField("count", len(names)).Debug("Listed folders")
		return nil
	})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// FolderStatus reports message count, UIDVALIDITY and UIDNEXT of a folder
func (m *Manager) FolderStatus(ctx context.Context, accountID, folder string) (types.FolderStatus, error) {
	var status types.FolderStatus
	err := m.withSession(ctx, accountID, folder, true, func(s *session) error {
		status = s.status
		return nil
	})
	return status, err
}

// FetchSummaries returns a newest-first page of summaries: all UIDs are
// searched, sorted descending and sliced by offset and limit before the
// page is fetched
func (m *Manager) FetchSummaries(ctx context.Context, accountID, folder string, limit, offset int) ([]types.EmailSummary, error) {
	var out []types.EmailSummary
	err := m.withSession(ctx, accountID, folder, true, func(s *session) error {
		uids, err := s.transport.SearchAll(ctx)
		if err != nil {
			return err
		}
		page := pageUIDs(parser.SortDesc(uids, 0), offset, limit)
		out, err = m.fetchSummaries(ctx, s, page)
		return err
	})
	return out, err
}

// FetchNewSummaries returns summaries of messages with a UID greater than
// sinceUID, newest first, at most limit of them
func (m *Manager) FetchNewSummaries(ctx context.Context, accountID, folder string, sinceUID uint32, limit int) ([]types.EmailSummary, error) {
	var out []types.EmailSummary
	err := m.withSession(ctx, accountID, folder, true, func(s *session) error {
		uids, err := s.transport.SearchSince(ctx, sinceUID)
		if err != nil {
			return err
		}
		out, err = m.fetchSummaries(ctx, s, parser.SortDesc(uids, limit))
		return err
	})
	return out, err
}

func (m *Manager) fetchSummaries(ctx context.Context, s *session, uids []uint32) ([]types.EmailSummary, error) {
	out := []types.EmailSummary{}
	if len(uids) == 0 {
		return out, nil
	}

	msgs, err := s.transport.FetchSummaries(ctx, uids, m.preview)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		summary, ok := m.parser.Summary(s.account.ID, msg)
		if !ok {
			s.log.WithField("uid", msg.UID).Debug("Skipping FETCH record without envelope")
			continue
		}
		out = append(out, summary)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UID > out[j].UID })

	s.log.WithField("count", len(out)).Debug("Fetched summaries")
	return out, nil
}

// FetchDetail fetches and decodes one full message
func (m *Manager) FetchDetail(ctx context.Context, accountID, folder string, uid uint32) (types.Email, error) {
	var email types.Email
	err := m.withSession(ctx, accountID, folder, false, func(s *session) error {
		msg, err := s.transport.FetchMessage(ctx, uid)
		if err != nil {
			return err
		}
		email = m.parser.Detail(s.account.ID, folder, msg)
		return nil
	})
	return email, err
}

// MarkRead flags one message \Seen
func (m *Manager) MarkRead(ctx context.Context, accountID, folder string, uid uint32) error {
	return m.withSession(ctx, accountID, folder, false, func(s *session) error {
		return s.transport.AddFlag(ctx, uid, parser.FlagSeen)
	})
}

// Delete flags one message \Deleted and expunges the folder
func (m *Manager) Delete(ctx context.Context, accountID, folder string, uid uint32) error {
	return m.withSession(ctx, accountID, folder, false, func(s *session) error {
		if err := s.transport.AddFlag(ctx, uid, parser.FlagDeleted); err != nil {
			return err
		}
		if err := s.transport.Expunge(ctx); err != nil {
			return err
		}
		s.log.WithField("uid", uid).Info("Deleted message")
		return nil
	})
}

// Move copies one message to dest, flags the original \Deleted and
// expunges the source folder
func (m *Manager) Move(ctx context.Context, accountID, folder string, uid uint32, dest string) error {
	if dest == "" {
		return &Error{Kind: KindNotFound, Op: "move", Msg: "destination folder is required"}
	}
	return m.withSession(ctx, accountID, folder, false, func(s *session) error {
		if err := s.transport.Copy(ctx, uid, dest); err != nil {
			return err
		}
		if err := s.transport.AddFlag(ctx, uid, parser.FlagDeleted); err != nil {
			return err
		}
		if err := s.transport.Expunge(ctx); err != nil {
			return err
		}
		s.log.WithFields(logrus.Fields{"uid": uid, "dest": dest}).Info("Moved message")
		return nil
	})
}

// pageUIDs slices a sorted UID list by offset and limit.
func pageUIDs(uids []uint32, offset, limit int) []uint32 {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(uids) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(uids) {
		end = len(uids)
	}
	return uids[offset:end]
}
