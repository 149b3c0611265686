package email

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailflow/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testAccount = types.Account{
	ID:       "netease",
	Email:    "me@163.com",
	IMAPHost: "imap.163.com",
	IMAPPort: 993,
}

// scriptedServer plays the server side of a net.Pipe. handle gets each
// command without its tag and returns the lines to answer with; "$" at
// the start of a line is replaced by the command's tag.
type scriptedServer struct {
	mu       sync.Mutex
	commands []string
	greeting string
	handle   func(cmd string) []string
}

func (s *scriptedServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *scriptedServer) serve(conn net.Conn) {
	defer conn.Close()
	if _, err := io.WriteString(conn, s.greeting); err != nil {
		return
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		tag, cmd, _ := strings.Cut(strings.TrimRight(line, "\r\n"), " ")
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		for _, out := range s.handle(cmd) {
			if strings.HasPrefix(out, "$") {
				out = tag + out[1:]
			}
			if _, err := io.WriteString(conn, out+"\r\n"); err != nil {
				return
			}
		}
	}
}

func newScriptedClient(t *testing.T, cfg DialConfig, handle func(cmd string) []string) (*rawClient, *scriptedServer) {
	t.Helper()
	srv := &scriptedServer{greeting: "* OK Coremail System IMap Server Ready\r\n", handle: handle}
	clientConn, serverConn := net.Pipe()
	go srv.serve(serverConn)

	c := newRawClient(testAccount, cfg, testLogger())
	c.dial = func(context.Context) (net.Conn, error) { return clientConn, nil }
	t.Cleanup(func() { c.Close() })
	return c, srv
}

func testDialConfig() DialConfig {
	return DialConfig{
		CommandTimeout: 5 * time.Second,
		Identity:       ClientIdentity{Name: "mailflow", Version: "1.0.0"},
	}
}

const rawMessage = "Subject: Hello\r\nFrom: Alice <alice@example.org>\r\n\r\nHi there\r\n"

func mailboxServer(cmd string) []string {
	switch {
	case strings.HasPrefix(cmd, "LOGIN"), strings.HasPrefix(cmd, "ID"):
		return []string{"$ OK done"}
	case strings.HasPrefix(cmd, "LIST"):
		return []string{
			`* LIST (\HasNoChildren) "/" "INBOX"`,
			`* LIST (\HasNoChildren) "/" "&XfJT0ZAB-"`,
			`* LIST (\Noselect) "/" "[Gmail]"`,
			"$ OK LIST completed",
		}
	case strings.HasPrefix(cmd, "EXAMINE"), strings.HasPrefix(cmd, "SELECT"):
		return []string{
			"* 3 EXISTS",
			"* 0 RECENT",
			"* OK [UIDVALIDITY 77] UIDs valid",
			"* OK [UIDNEXT 12] Predicted next UID",
			"$ OK [READ-ONLY] EXAMINE completed",
		}
	case strings.HasPrefix(cmd, "UID SEARCH"):
		return []string{"* SEARCH 9 10 11", "$ OK SEARCH completed"}
	case strings.HasPrefix(cmd, "UID FETCH 11 (UID FLAGS RFC822)"):
		return []string{
			fmt.Sprintf(`* 3 FETCH (UID 11 FLAGS (\Seen) RFC822 {%d}`, len(rawMessage)) + "\r\n" + rawMessage + ")",
			"$ OK FETCH completed",
		}
	case strings.HasPrefix(cmd, "UID FETCH"):
		return []string{
			`* 1 FETCH (UID 9 RFC822.SIZE 120 FLAGS (\Seen) ENVELOPE ("Mon, 2 Jun 2025 10:00:00 +0000" "First" (("Alice" NIL "alice" "example.org")) NIL NIL NIL NIL NIL NIL "<1@x>"))`,
			"* 2 FETCH (UID",
			"* 2 EXPUNGE",
			"$ OK FETCH completed",
		}
	case strings.HasPrefix(cmd, "LOGOUT"):
		return []string{"* BYE logging out", "$ OK LOGOUT completed"}
	}
	return []string{"$ OK done"}
}

func TestRawClientSession(t *testing.T) {
	ctx := context.Background()
	c, srv := newScriptedClient(t, testDialConfig(), mailboxServer)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Login(ctx, "me@163.com", `pa"ss`))

	folders, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, "已发送", folders[1].Name)
	assert.True(t, folders[2].HasAttribute(`\NoSelect`))

	status, err := c.Select(ctx, "已发送", true)
	require.NoError(t, err)
	assert.Equal(t, types.FolderStatus{Name: "已发送", Messages: 3, UIDValidity: 77, UIDNext: 12}, status)

	uids, err := c.SearchSince(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 11}, uids)

	msgs, err := c.FetchSummaries(ctx, []uint32{9, 10}, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint32(9), msgs[0].UID)
	assert.Equal(t, "First", msgs[0].Envelope.Subject)

	msg, err := c.FetchMessage(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, rawMessage, string(msg.Raw))
	assert.Equal(t, []string{`\Seen`}, msg.Flags)

	require.NoError(t, c.AddFlag(ctx, 11, `\Seen`))
	require.NoError(t, c.Copy(ctx, 11, "Archive"))
	require.NoError(t, c.Expunge(ctx))
	require.NoError(t, c.Logout(ctx))

	assert.Equal(t, []string{
		`LOGIN "me@163.com" "pa\"ss"`,
		`ID ("name" "mailflow" "version" "1.0.0")`,
		`LIST "" "*"`,
		`EXAMINE "&XfJT0ZAB-"`,
		"UID SEARCH UID 10:*",
		"UID FETCH 9,10 (RFC822.SIZE UID FLAGS ENVELOPE)",
		"UID FETCH 11 (UID FLAGS RFC822)",
		`UID STORE 11 +FLAGS (\Seen)`,
		`UID COPY 11 "Archive"`,
		"EXPUNGE",
		"LOGOUT",
	}, srv.Commands())
}

func TestRawClientRejectsBadGreeting(t *testing.T) {
	srv := &scriptedServer{greeting: "* BYE too many connections\r\n", handle: mailboxServer}
	clientConn, serverConn := net.Pipe()
	go srv.serve(serverConn)

	c := newRawClient(testAccount, testDialConfig(), testLogger())
	c.dial = func(context.Context) (net.Conn, error) { return clientConn, nil }
	defer c.Close()

	assert.ErrorIs(t, c.Connect(context.Background()), ErrConnection)
}

func TestRawClientLoginRewritesUnsafeLogin(t *testing.T) {
	ctx := context.Background()
	c, srv := newScriptedClient(t, testDialConfig(), func(cmd string) []string {
		return []string{"$ NO [UNAVAILABLE] Unsafe Login. Please contact kefu@188.com for help"}
	})

	logger, hook := logtest.NewNullLogger()
	c.SetLogger(logger)

	require.NoError(t, c.Connect(ctx))
	err := c.Login(ctx, "me@163.com", "secret")
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "application code")
	// no ID after a failed LOGIN
	assert.Len(t, srv.Commands(), 1)
	// the session engine logs the failure
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level, e.Message)
	}
}

func TestRawClientSearchSinceHighestUID(t *testing.T) {
	ctx := context.Background()
	c, srv := newScriptedClient(t, testDialConfig(), mailboxServer)

	require.NoError(t, c.Connect(ctx))
	uids, err := c.SearchSince(ctx, ^uint32(0))
	require.NoError(t, err)
	assert.Empty(t, uids)
	assert.Empty(t, srv.Commands())
}

func TestRawClientIgnoresRejectedID(t *testing.T) {
	ctx := context.Background()
	c, _ := newScriptedClient(t, testDialConfig(), func(cmd string) []string {
		if strings.HasPrefix(cmd, "ID") {
			return []string{"$ BAD command unknown"}
		}
		return []string{"$ OK done"}
	})

	require.NoError(t, c.Connect(ctx))
	assert.NoError(t, c.Login(ctx, "me@163.com", "secret"))
}

func TestRawClientSelectMissingFolder(t *testing.T) {
	ctx := context.Background()
	c, _ := newScriptedClient(t, testDialConfig(), func(cmd string) []string {
		if strings.HasPrefix(cmd, "SELECT") {
			return []string{"$ NO Mailbox does not exist"}
		}
		return []string{"$ OK done"}
	})

	require.NoError(t, c.Connect(ctx))
	_, err := c.Select(ctx, "Nope", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRawClientFetchMissingMessage(t *testing.T) {
	ctx := context.Background()
	c, _ := newScriptedClient(t, testDialConfig(), func(cmd string) []string {
		return []string{"$ OK done"}
	})

	require.NoError(t, c.Connect(ctx))
	_, err := c.FetchMessage(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRawClientUnexpectedBye(t *testing.T) {
	ctx := context.Background()
	c, _ := newScriptedClient(t, testDialConfig(), func(cmd string) []string {
		return []string{"* BYE server shutting down"}
	})

	require.NoError(t, c.Connect(ctx))
	_, err := c.SearchAll(ctx)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestRawClientCommandTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := testDialConfig()
	cfg.CommandTimeout = 50 * time.Millisecond
	c, _ := newScriptedClient(t, cfg, func(cmd string) []string {
		return nil
	})

	require.NoError(t, c.Connect(ctx))
	_, err := c.SearchAll(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRawClientCancel(t *testing.T) {
	c, _ := newScriptedClient(t, testDialConfig(), func(cmd string) []string {
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.SearchAll(ctx)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRawClientNotConnected(t *testing.T) {
	c := newRawClient(testAccount, testDialConfig(), testLogger())
	_, err := c.SearchAll(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.NoError(t, c.Close())
}
