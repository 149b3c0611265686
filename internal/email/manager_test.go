package email

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/internal/parser"
	"github.com/brandon/mailflow/pkg/types"
)

// fakeTransport records the commands a session issues.
type fakeTransport struct {
	mu    sync.Mutex
	calls []string

	mailboxes []parser.Mailbox
	status    types.FolderStatus
	uids      []uint32
	messages  map[uint32]*parser.Message
	fail      map[string]error

	logoutCtxErr error
}

func (f *fakeTransport) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Connect(context.Context) error { return f.record("connect") }
func (f *fakeTransport) Login(context.Context, string, string) error {
	return f.record("login")
}

func (f *fakeTransport) List(context.Context) ([]parser.Mailbox, error) {
	return f.mailboxes, f.record("list")
}

func (f *fakeTransport) Select(_ context.Context, folder string, readOnly bool) (types.FolderStatus, error) {
	call := "select"
	if readOnly {
		call = "examine"
	}
	if err := f.record(call); err != nil {
		return types.FolderStatus{}, err
	}
	st := f.status
	st.Name = folder
	return st, nil
}

func (f *fakeTransport) SearchAll(context.Context) ([]uint32, error) {
	return f.uids, f.record("search")
}

func (f *fakeTransport) SearchSince(_ context.Context, uid uint32) ([]uint32, error) {
	return above(f.uids, uid), f.record("search since " + strconv.Itoa(int(uid)))
}

func (f *fakeTransport) FetchSummaries(_ context.Context, uids []uint32, _ bool) ([]*parser.Message, error) {
	call := "fetch"
	for _, u := range uids {
		call += " " + strconv.Itoa(int(u))
	}
	if err := f.record(call); err != nil {
		return nil, err
	}
	var out []*parser.Message
	for _, u := range uids {
		if m, ok := f.messages[u]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTransport) FetchMessage(_ context.Context, uid uint32) (*parser.Message, error) {
	if err := f.record("fetch message"); err != nil {
		return nil, err
	}
	m, ok := f.messages[uid]
	if !ok || m.Raw == nil {
		return nil, &Error{Kind: KindNotFound, Op: "fetch", Msg: "message not found"}
	}
	return m, nil
}

func (f *fakeTransport) AddFlag(_ context.Context, _ uint32, flag string) error {
	return f.record("flag " + flag)
}

func (f *fakeTransport) Copy(_ context.Context, _ uint32, dest string) error {
	return f.record("copy " + dest)
}

func (f *fakeTransport) Expunge(context.Context) error { return f.record("expunge") }

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.logoutCtxErr = ctx.Err()
	return f.record("logout")
}

func (f *fakeTransport) Close() error {
	f.record("close") //nolint:errcheck
	return nil
}

type fakeFactory struct {
	transport *fakeTransport
	created   int
}

func (f *fakeFactory) New(types.Account) Transport {
	f.created++
	return f.transport
}

type staticCredentials map[string]string

func (s staticCredentials) GetPassword(_ context.Context, account types.Account) (string, bool, error) {
	p, ok := s[account.ID]
	return p, ok, nil
}

func envelopeMessage(uid uint32, subject string) *parser.Message {
	return &parser.Message{
		UID:   uid,
		Flags: []string{parser.FlagSeen},
		Envelope: &parser.Envelope{
			Date:    time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			Subject: subject,
			From:    []parser.Address{{Name: "Alice", Mailbox: "alice", Host: "example.org"}},
		},
	}
}

func newTestManager(t *testing.T, ft *fakeTransport) (*Manager, *fakeFactory) {
	t.Helper()
	accounts, err := NewAccountManager(&config.Config{Accounts: []config.AccountConfig{
		{ID: "work", Name: "Work", Email: "me@example.org", IMAPHost: "imap.example.org", IMAPPort: 993},
		{ID: "nopass", Email: "other@example.org", IMAPHost: "imap.example.org", IMAPPort: 993},
	}})
	require.NoError(t, err)

	factory := &fakeFactory{transport: ft}
	m := NewManager(accounts, staticCredentials{"work": "secret"}, factory, parser.New(nil, testLogger()), testLogger())
	return m, factory
}

func TestManagerListFolders(t *testing.T) {
	ft := &fakeTransport{mailboxes: []parser.Mailbox{
		{Name: "INBOX"},
		{Name: ""},
		{Name: ".hidden"},
		{Name: "[Gmail]", Attributes: []string{`\Noselect`}},
		{Name: "Sent", Attributes: []string{`\HasNoChildren`}},
	}}
	m, _ := newTestManager(t, ft)

	folders, err := m.ListFolders(context.Background(), "Work")
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Sent"}, folders)
	assert.Equal(t, []string{"connect", "login", "list", "logout", "close"}, ft.Calls())
}

func TestManagerFetchSummariesPages(t *testing.T) {
	ft := &fakeTransport{
		uids:     []uint32{3, 1, 2, 5, 4, 6},
		messages: map[uint32]*parser.Message{},
	}
	for i := uint32(1); i <= 6; i++ {
		ft.messages[i] = envelopeMessage(i, "Mail "+strconv.Itoa(int(i)))
	}
	ft.messages[4] = &parser.Message{UID: 4}
	m, _ := newTestManager(t, ft)

	summaries, err := m.FetchSummaries(context.Background(), "work", "INBOX", 3, 1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, uint32(5), summaries[0].UID)
	assert.Equal(t, uint32(3), summaries[1].UID)
	assert.Equal(t, "work_5", summaries[0].ID)
	assert.Equal(t, "Alice", summaries[0].From)
	assert.True(t, summaries[0].IsRead)
	assert.Equal(t, "2025-06-01T08:00:00Z", summaries[0].Date)

	assert.Equal(t, []string{"connect", "login", "examine", "search", "fetch 5 4 3", "logout", "close"}, ft.Calls())
}

func TestManagerFetchSummariesPastEnd(t *testing.T) {
	ft := &fakeTransport{uids: []uint32{1, 2}}
	m, _ := newTestManager(t, ft)

	summaries, err := m.FetchSummaries(context.Background(), "work", "INBOX", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.NotNil(t, summaries)
	assert.NotContains(t, ft.Calls(), "fetch")
}

func TestManagerFetchNewSummaries(t *testing.T) {
	ft := &fakeTransport{
		uids: []uint32{50, 51, 52, 53, 54},
		messages: map[uint32]*parser.Message{
			51: envelopeMessage(51, "a"),
			52: envelopeMessage(52, "b"),
			53: envelopeMessage(53, "c"),
			54: envelopeMessage(54, "d"),
		},
	}
	m, _ := newTestManager(t, ft)

	summaries, err := m.FetchNewSummaries(context.Background(), "work", "INBOX", 51, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, uint32(54), summaries[0].UID)
	assert.Equal(t, uint32(53), summaries[1].UID)
	assert.Contains(t, ft.Calls(), "search since 51")
	assert.Contains(t, ft.Calls(), "fetch 54 53")
}

func TestManagerFolderStatus(t *testing.T) {
	ft := &fakeTransport{status: types.FolderStatus{Messages: 3, UIDValidity: 9, UIDNext: 40}}
	m, _ := newTestManager(t, ft)

	st, err := m.FolderStatus(context.Background(), "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, types.FolderStatus{Name: "INBOX", Messages: 3, UIDValidity: 9, UIDNext: 40}, st)
}

func TestManagerFetchDetail(t *testing.T) {
	ft := &fakeTransport{messages: map[uint32]*parser.Message{
		7: {UID: 7, Raw: []byte(rawMessage)},
	}}
	m, _ := newTestManager(t, ft)

	email, err := m.FetchDetail(context.Background(), "work", "INBOX", 7)
	require.NoError(t, err)
	assert.Equal(t, "Hello", email.Subject)
	assert.Equal(t, "INBOX", email.Folder)
	assert.Contains(t, email.Body, "Hi there")

	_, err = m.FetchDetail(context.Background(), "work", "INBOX", 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerMutations(t *testing.T) {
	ctx := context.Background()

	t.Run("mark read", func(t *testing.T) {
		ft := &fakeTransport{}
		m, _ := newTestManager(t, ft)
		require.NoError(t, m.MarkRead(ctx, "work", "INBOX", 3))
		assert.Equal(t, []string{"connect", "login", "select", `flag \Seen`, "logout", "close"}, ft.Calls())
	})

	t.Run("delete", func(t *testing.T) {
		ft := &fakeTransport{}
		m, _ := newTestManager(t, ft)
		require.NoError(t, m.Delete(ctx, "work", "INBOX", 3))
		assert.Equal(t, []string{"connect", "login", "select", `flag \Deleted`, "expunge", "logout", "close"}, ft.Calls())
	})

	t.Run("move", func(t *testing.T) {
		ft := &fakeTransport{}
		m, _ := newTestManager(t, ft)
		require.NoError(t, m.Move(ctx, "work", "INBOX", 3, "Archive"))
		assert.Equal(t, []string{"connect", "login", "select", "copy Archive", `flag \Deleted`, "expunge", "logout", "close"}, ft.Calls())
	})

	t.Run("move stops when copy fails", func(t *testing.T) {
		ft := &fakeTransport{fail: map[string]error{"copy Archive": &Error{Kind: KindProtocol, Op: "copy"}}}
		m, _ := newTestManager(t, ft)
		err := m.Move(ctx, "work", "INBOX", 3, "Archive")
		assert.ErrorIs(t, err, ErrProtocol)
		assert.Equal(t, []string{"connect", "login", "select", "copy Archive", "logout", "close"}, ft.Calls())
	})

	t.Run("move requires destination", func(t *testing.T) {
		ft := &fakeTransport{}
		m, factory := newTestManager(t, ft)
		assert.ErrorIs(t, m.Move(ctx, "work", "INBOX", 3, ""), ErrNotFound)
		assert.Zero(t, factory.created)
	})
}

func TestManagerSessionFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown account", func(t *testing.T) {
		m, factory := newTestManager(t, &fakeTransport{})
		_, err := m.ListFolders(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, factory.created)
	})

	t.Run("missing password", func(t *testing.T) {
		m, factory := newTestManager(t, &fakeTransport{})
		_, err := m.ListFolders(ctx, "nopass")
		assert.ErrorIs(t, err, ErrAuth)
		assert.Zero(t, factory.created)
	})

	t.Run("connect failure closes without logout", func(t *testing.T) {
		ft := &fakeTransport{fail: map[string]error{"connect": &Error{Kind: KindConnection, Op: "dial"}}}
		m, _ := newTestManager(t, ft)
		_, err := m.ListFolders(ctx, "work")
		assert.ErrorIs(t, err, ErrConnection)
		assert.Equal(t, []string{"connect", "close"}, ft.Calls())
	})

	t.Run("login failure still logs out", func(t *testing.T) {
		ft := &fakeTransport{fail: map[string]error{"login": &Error{Kind: KindAuth, Op: "login"}}}
		m, _ := newTestManager(t, ft)
		logger, hook := logtest.NewNullLogger()
		m.logger = logger

		_, err := m.ListFolders(ctx, "work")
		assert.ErrorIs(t, err, ErrAuth)
		assert.Equal(t, []string{"connect", "login", "logout", "close"}, ft.Calls())

		var errorLogs []string
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.ErrorLevel {
				errorLogs = append(errorLogs, e.Message)
			}
		}
		assert.Equal(t, []string{"Failed to authenticate"}, errorLogs)
	})

	t.Run("select failure still logs out", func(t *testing.T) {
		ft := &fakeTransport{fail: map[string]error{"examine": &Error{Kind: KindNotFound, Op: "select"}}}
		m, _ := newTestManager(t, ft)
		_, err := m.FetchSummaries(ctx, "work", "Nope", 10, 0)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, []string{"connect", "login", "examine", "logout", "close"}, ft.Calls())
	})

	t.Run("logout failure keeps result", func(t *testing.T) {
		ft := &fakeTransport{
			mailboxes: []parser.Mailbox{{Name: "INBOX"}},
			fail:      map[string]error{"logout": errors.New("broken pipe")},
		}
		m, _ := newTestManager(t, ft)
		folders, err := m.ListFolders(ctx, "work")
		require.NoError(t, err)
		assert.Equal(t, []string{"INBOX"}, folders)
	})

	t.Run("cancelled operation still logs out", func(t *testing.T) {
		ft := &fakeTransport{fail: map[string]error{"search": &Error{Kind: KindConnection, Op: "search", Err: context.Canceled}}}
		m, _ := newTestManager(t, ft)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := m.FetchSummaries(cctx, "work", "INBOX", 10, 0)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, ft.Calls(), "logout")
		assert.NoError(t, ft.logoutCtxErr)
	})
}

func TestPageUIDs(t *testing.T) {
	uids := []uint32{9, 8, 7, 6}
	assert.Equal(t, []uint32{8, 7}, pageUIDs(uids, 1, 2))
	assert.Equal(t, []uint32{6}, pageUIDs(uids, 3, 10))
	assert.Empty(t, pageUIDs(uids, 4, 10))
	assert.Empty(t, pageUIDs(uids, 0, 0))
	assert.Equal(t, []uint32{9}, pageUIDs(uids, -1, 1))
}
