package email

import (
	"context"
	"io"
	"log"
	"net"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The in-memory backend has one user, "username"/"password", with an
// INBOX holding a single text/plain message at UID 6.
const (
	memoryUser     = "username"
	memoryPassword = "password"
	memoryUID      = 6
)

// newMemoryServer serves a fresh in-memory backend on a loopback port and
// returns its address.
func newMemoryServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	s.ErrorLog = log.New(io.Discard, "", 0)
	go s.Serve(l) //nolint:errcheck
	t.Cleanup(func() { s.Close() })
	return l.Addr().String()
}

// newLibraryClient connects an imapClient to addr over plain TCP.
func newLibraryClient(t *testing.T, addr string, cfg DialConfig) *imapClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	cl, err := client.New(conn)
	require.NoError(t, err)
	cl.Timeout = cfg.CommandTimeout

	c := newIMAPClient(testAccount, cfg, testLogger())
	c.conn, c.client = conn, cl
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIMAPClientLogin(t *testing.T) {
	ctx := context.Background()
	addr := newMemoryServer(t)

	c := newLibraryClient(t, addr, testDialConfig())
	err := c.Login(ctx, memoryUser, "wrong")
	assert.ErrorIs(t, err, ErrAuth)

	c = newLibraryClient(t, addr, testDialConfig())
	require.NoError(t, c.Login(ctx, memoryUser, memoryPassword))
	require.NoError(t, c.Logout(ctx))
	assert.NoError(t, c.Close())
}

func TestIMAPClientNotConnected(t *testing.T) {
	c := newIMAPClient(testAccount, testDialConfig(), testLogger())
	_, err := c.List(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
	assert.NoError(t, c.Close())
}

func TestIMAPClientSession(t *testing.T) {
	ctx := context.Background()
	cfg := testDialConfig()
	cfg.PreviewBytes = 64
	c := newLibraryClient(t, newMemoryServer(t), cfg)
	require.NoError(t, c.Login(ctx, memoryUser, memoryPassword))

	folders, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, "/", folders[0].Delimiter)

	_, err = c.Select(ctx, "Nowhere", true)
	assert.ErrorIs(t, err, ErrNotFound)

	status, err := c.Select(ctx, "INBOX", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.Messages)
	assert.Equal(t, uint32(1), status.UIDValidity)
	assert.Equal(t, uint32(memoryUID+1), status.UIDNext)

	uids, err := c.SearchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{memoryUID}, uids)

	uids, err = c.SearchSince(ctx, memoryUID)
	require.NoError(t, err)
	assert.Empty(t, uids)

	uids, err = c.SearchSince(ctx, maxUID)
	require.NoError(t, err)
	assert.Empty(t, uids)

	uids, err = c.SearchSince(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{memoryUID}, uids)

	msgs, err := c.FetchSummaries(ctx, []uint32{memoryUID}, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, uint32(memoryUID), m.UID)
	assert.Contains(t, m.Flags, imap.SeenFlag)
	require.NotNil(t, m.Envelope)
	assert.Equal(t, "A little message, just for you", m.Envelope.Subject)
	require.Len(t, m.Envelope.From, 1)
	assert.Equal(t, "contact", m.Envelope.From[0].Mailbox)
	assert.Equal(t, "example.org", m.Envelope.From[0].Host)
	assert.Contains(t, string(m.PreviewHeader), "Content-Type: text/plain")
	assert.Equal(t, "Hi there :)", string(m.Preview))
	assert.Nil(t, m.Raw)

	msgs, err = c.FetchSummaries(ctx, []uint32{memoryUID}, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Nil(t, msgs[0].Preview)

	empty, err := c.FetchSummaries(ctx, nil, true)
	require.NoError(t, err)
	assert.Empty(t, empty)

	full, err := c.FetchMessage(ctx, memoryUID)
	require.NoError(t, err)
	assert.Contains(t, string(full.Raw), "Subject: A little message, just for you")
	assert.Equal(t, uint32(len(full.Raw)), full.Size)

	_, err = c.FetchMessage(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Logout(ctx))
}

func TestIMAPClientMutations(t *testing.T) {
	ctx := context.Background()
	c := newLibraryClient(t, newMemoryServer(t), testDialConfig())
	require.NoError(t, c.Login(ctx, memoryUser, memoryPassword))
	_, err := c.Select(ctx, "INBOX", false)
	require.NoError(t, err)

	// copying into the same folder appends a message at the next UID
	require.NoError(t, c.Copy(ctx, memoryUID, "INBOX"))
	uids, err := c.SearchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{memoryUID, memoryUID + 1}, uids)

	assert.Error(t, c.Copy(ctx, memoryUID, "Nowhere"))

	require.NoError(t, c.AddFlag(ctx, memoryUID+1, imap.DeletedFlag))
	require.NoError(t, c.Expunge(ctx))
	uids, err = c.SearchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint32{memoryUID}, uids)

	require.NoError(t, c.AddFlag(ctx, memoryUID, imap.FlaggedFlag))
	msgs, err := c.FetchSummaries(ctx, []uint32{memoryUID}, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Flags, imap.FlaggedFlag)
}
