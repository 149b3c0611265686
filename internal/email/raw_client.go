package email

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/utf7"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/parser"
	"github.com/brandon/mailflow/pkg/types"
)

// rawClient is the hand-rolled Transport for servers that require an ID
// announcement right after LOGIN. Commands are written synchronously and
// the responses read up to the line carrying the command's tag.
type rawClient struct {
	account types.Account
	cfg     DialConfig
	logger  *logrus.Logger

	dial func(ctx context.Context) (net.Conn, error)
	conn net.Conn
	r    *bufio.Reader
	seq  int
}

func newRawClient(account types.Account, cfg DialConfig, logger *logrus.Logger) *rawClient {
	if logger == nil {
		logger = logrus.New()
	}
	c := &rawClient{account: account, cfg: cfg, logger: logger}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		return dialTLS(ctx, account, cfg.DialTimeout)
	}
	return c
}

// SetLogger sets the logger for the client
func (c *rawClient) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// response is the outcome of one tagged command.
type response struct {
	untagged [][]byte
	status   parser.Status
}

// Connect dials the server and reads its greeting.
func (c *rawClient) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = bufio.NewReader(conn)

	if err := c.setDeadline(ctx); err != nil {
		return classify("connect", KindConnection, err)
	}
	greeting, err := c.readResponse()
	if err != nil {
		return c.netError(ctx, "connect", err)
	}
	st, ok := parser.ParseStatus(greeting)
	if !ok || st.Tag != "*" || (st.Type != "OK" && st.Type != "PREAUTH") {
		return &Error{Kind: KindConnection, Op: "connect", Msg: fmt.Sprintf("unexpected greeting %q", bytes.TrimSpace(greeting))}
	}
	c.logger.WithField("account", c.account.ID).Debug("Connected to IMAP server")
	return nil
}

func (c *rawClient) setDeadline(ctx context.Context) error {
	var deadline time.Time
	if c.cfg.CommandTimeout > 0 {
		deadline = time.Now().Add(c.cfg.CommandTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return c.conn.SetDeadline(deadline)
}

// netError maps a read or write failure, preferring the context's reason.
func (c *rawClient) netError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return classify(op, KindConnection, ctxErr)
	}
	return classify(op, KindConnection, err)
}

// execute sends one tagged command and collects its untagged responses.
// A NO or BAD completion is returned as an *Error of the given kind.
func (c *rawClient) execute(ctx context.Context, op string, kind Kind, command string) (*response, error) {
	if c.conn == nil {
		return nil, newError(KindConnection, op, errNotConnected)
	}

	c.seq++
	tag := fmt.Sprintf("A%03d", c.seq)

	if err := c.setDeadline(ctx); err != nil {
		return nil, classify(op, KindConnection, err)
	}
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Unix(1, 0)) }) //nolint:errcheck
	defer stop()

	if _, err := io.WriteString(c.conn, tag+" "+command+"\r\n"); err != nil {
		return nil, c.netError(ctx, op, err)
	}

	resp := &response{}
	for {
		line, err := c.readResponse()
		if err != nil {
			return nil, c.netError(ctx, op, err)
		}
		if bytes.HasPrefix(line, []byte(tag+" ")) {
			st, ok := parser.ParseStatus(line)
			if !ok {
				return nil, protocolErrorf(op, "malformed completion %q", bytes.TrimSpace(line))
			}
			resp.status = st
			break
		}
		if bytes.HasPrefix(line, []byte("+")) {
			return nil, protocolErrorf(op, "unexpected continuation request")
		}
		if bytes.HasPrefix(line, []byte("* BYE")) && op != "logout" {
			return nil, &Error{Kind: KindConnection, Op: op, Msg: string(bytes.TrimSpace(line))}
		}
		resp.untagged = append(resp.untagged, line)
	}

	if resp.status.Type != "OK" {
		return resp, &Error{Kind: kind, Op: op, Msg: resp.status.Type + " " + resp.status.Text}
	}
	return resp, nil
}

// readResponse reads one response line together with any literals it
// announces, so the result can be handed to the parser as a whole.
func (c *rawClient) readResponse() ([]byte, error) {
	var buf []byte
	for {
		line, err := c.r.ReadBytes('\n')
		buf = append(buf, line...)
		if err != nil {
			return nil, err
		}
		n, ok := parser.LiteralSize(line)
		if !ok {
			return buf, nil
		}
		lit := make([]byte, n)
		if _, err := io.ReadFull(c.r, lit); err != nil {
			return nil, err
		}
		buf = append(buf, lit...)
	}
}

// quote renders s as an IMAP quoted string.
func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func encodeMailbox(name string) (string, error) {
	enc, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return "", err
	}
	return quote(enc), nil
}

// Login authenticates with LOGIN and then announces the client with ID.
// A rejected ID is logged; the session carries on.
func (c *rawClient) Login(ctx context.Context, username, password string) error {
	_, err := c.execute(ctx, "login", KindAuth, "LOGIN "+quote(username)+" "+quote(password))
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Kind == KindAuth {
			return authError("login", errors.New(e.Msg))
		}
		return err
	}

	id := c.cfg.Identity
	cmd := fmt.Sprintf("ID (%s %s %s %s)", quote("name"), quote(id.Name), quote("version"), quote(id.Version))
	if _, err := c.execute(ctx, "id", KindProtocol, cmd); err != nil {
		if !errors.Is(err, ErrProtocol) {
			return err
		}
		c.logger.WithError(err).WithField("account", c.account.ID).Warn("Server rejected ID handshake")
	}
	return nil
}

// List lists all mailboxes, decoding modified UTF-7 names.
func (c *rawClient) List(ctx context.Context) ([]parser.Mailbox, error) {
	resp, err := c.execute(ctx, "list", KindProtocol, `LIST "" "*"`)
	if err != nil {
		return nil, err
	}

	var out []parser.Mailbox
	for _, line := range resp.untagged {
		mb, err := parser.ParseList(line)
		if err != nil {
			continue
		}
		if name, err := utf7.Encoding.NewDecoder().String(mb.Name); err == nil {
			mb.Name = name
		} else {
			c.logger.WithError(err).WithField("folder", mb.Name).Debug("Keeping undecodable mailbox name")
		}
		out = append(out, mb)
	}
	return out, nil
}

// Select selects (or examines, if readOnly) a folder.
func (c *rawClient) Select(ctx context.Context, folder string, readOnly bool) (types.FolderStatus, error) {
	name, err := encodeMailbox(folder)
	if err != nil {
		return types.FolderStatus{}, newError(KindProtocol, "select", err)
	}
	verb := "SELECT"
	if readOnly {
		verb = "EXAMINE"
	}
	resp, err := c.execute(ctx, "select", KindNotFound, verb+" "+name)
	if err != nil {
		return types.FolderStatus{}, err
	}

	status := types.FolderStatus{Name: folder}
	for _, raw := range resp.untagged {
		line := string(bytes.TrimSpace(raw))
		if n, ok := parser.ParseExists(line); ok {
			status.Messages = n
		}
		if n, ok := parser.ParseStatusCode(line, "UIDVALIDITY"); ok {
			status.UIDValidity = n
		}
		if n, ok := parser.ParseStatusCode(line, "UIDNEXT"); ok {
			status.UIDNext = n
		}
	}
	return status, nil
}

func (c *rawClient) search(ctx context.Context, criteria string) ([]uint32, error) {
	resp, err := c.execute(ctx, "search", KindProtocol, "UID SEARCH "+criteria)
	if err != nil {
		return nil, err
	}
	var uids []uint32
	for _, line := range resp.untagged {
		s := string(bytes.TrimSpace(line))
		if strings.HasPrefix(strings.ToUpper(s), "* SEARCH") {
			uids = append(uids, parser.ParseSearch(s)...)
		}
	}
	return uids, nil
}

// SearchAll returns the UIDs of every message in the selected folder.
func (c *rawClient) SearchAll(ctx context.Context) ([]uint32, error) {
	return c.search(ctx, "ALL")
}

// SearchSince returns the UIDs greater than uid.
func (c *rawClient) SearchSince(ctx context.Context, uid uint32) ([]uint32, error) {
	if uid == maxUID {
		return []uint32{}, nil
	}
	uids, err := c.search(ctx, fmt.Sprintf("UID %d:*", uid+1))
	return above(uids, uid), err
}

// FetchSummaries fetches envelope, flags and size of the given UIDs. This
// transport does not fetch previews.
func (c *rawClient) FetchSummaries(ctx context.Context, uids []uint32, _ bool) ([]*parser.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	return c.fetch(ctx, uids, "(RFC822.SIZE UID FLAGS ENVELOPE)")
}

// FetchMessage fetches the full message of one UID.
func (c *rawClient) FetchMessage(ctx context.Context, uid uint32) (*parser.Message, error) {
	msgs, err := c.fetch(ctx, []uint32{uid}, "(UID FLAGS RFC822)")
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.UID == uid && m.Raw != nil {
			return m, nil
		}
	}
	return nil, &Error{Kind: KindNotFound, Op: "fetch", Msg: "message not found"}
}

func (c *rawClient) fetch(ctx context.Context, uids []uint32, items string) ([]*parser.Message, error) {
	resp, err := c.execute(ctx, "fetch", KindProtocol, "UID FETCH "+uidSet(uids)+" "+items)
	if err != nil {
		return nil, err
	}

	var out []*parser.Message
	for _, line := range resp.untagged {
		m, err := parser.ParseFetch(line)
		if err != nil {
			c.logger.WithError(err).Debug("Skipping unrecognized FETCH response")
			continue
		}
		if m.UID == 0 {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// AddFlag adds a flag to one message.
func (c *rawClient) AddFlag(ctx context.Context, uid uint32, flag string) error {
	_, err := c.execute(ctx, "store", KindProtocol, fmt.Sprintf("UID STORE %d +FLAGS (%s)", uid, flag))
	return err
}

// Copy copies one message to another folder.
func (c *rawClient) Copy(ctx context.Context, uid uint32, dest string) error {
	name, err := encodeMailbox(dest)
	if err != nil {
		return newError(KindProtocol, "copy", err)
	}
	_, err = c.execute(ctx, "copy", KindProtocol, fmt.Sprintf("UID COPY %d %s", uid, name))
	return err
}

// Expunge permanently removes messages flagged \Deleted.
func (c *rawClient) Expunge(ctx context.Context) error {
	_, err := c.execute(ctx, "expunge", KindProtocol, "EXPUNGE")
	return err
}

// Logout sends LOGOUT and closes the connection.
func (c *rawClient) Logout(ctx context.Context) error {
	_, err := c.execute(ctx, "logout", KindProtocol, "LOGOUT")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection.
func (c *rawClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r = nil, nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// uidSet renders UIDs as a comma-separated sequence set.
func uidSet(uids []uint32) string {
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = strconv.FormatUint(uint64(u), 10)
	}
	return strings.Join(parts, ",")
}
