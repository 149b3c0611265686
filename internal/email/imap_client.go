package email

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/parser"
	"github.com/brandon/mailflow/pkg/types"
)

var errNotConnected = errors.New("not connected")

// maxUID is the largest UID; nothing can lie above it.
const maxUID = ^uint32(0)

// previewHeaderSection fetches the MIME header fields needed to decode a
// preview without setting \Seen.
var previewHeaderSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"Content-Type", "Content-Transfer-Encoding"},
	},
	Peek: true,
}

// messageSection is the whole RFC 822 message, BODY[].
var messageSection = &imap.BodySectionName{}

func previewTextSection(n int) *imap.BodySectionName {
	return &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
		Partial:      []int{0, n},
	}
}

// imapClient is the Transport for standards-conformant servers, backed by
// the go-imap client.
type imapClient struct {
	account types.Account
	cfg     DialConfig
	conn    net.Conn
	client  *client.Client
	logger  *logrus.Logger
}

func newIMAPClient(account types.Account, cfg DialConfig, logger *logrus.Logger) *imapClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &imapClient{account: account, cfg: cfg, logger: logger}
}

// SetLogger sets the logger for the client
func (c *imapClient) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// Connect establishes the TLS connection and reads the greeting
func (c *imapClient) Connect(ctx context.Context) error {
	conn, err := dialTLS(ctx, c.account, c.cfg.DialTimeout)
	if err != nil {
		return err
	}

	cl, err := client.New(conn)
	if err != nil {
		conn.Close() //nolint:errcheck
		return classify("connect", KindConnection, err)
	}
	cl.Timeout = c.cfg.CommandTimeout

	c.conn, c.client = conn, cl
	c.logger.WithField("account", c.account.ID).Debug("Connected to IMAP server")
	return nil
}

// run executes one command. A cancelled context closes the connection to
// unblock it.
func (c *imapClient) run(ctx context.Context, op string, kind Kind, fn func() error) error {
	if c.client == nil {
		return newError(KindConnection, op, errNotConnected)
	}

	start := time.Now()
	stop := context.AfterFunc(ctx, func() { c.conn.Close() }) //nolint:errcheck
	err := fn()
	stop()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return classify(op, KindConnection, ctxErr)
	}
	if c.cfg.CommandTimeout > 0 && time.Since(start) >= c.cfg.CommandTimeout {
		return newError(KindTimeout, op, err)
	}
	return classify(op, kind, err)
}

// Login authenticates with LOGIN
func (c *imapClient) Login(ctx context.Context, username, password string) error {
	err := c.run(ctx, "login", KindAuth, func() error {
		return c.client.Login(username, password)
	})
	var e *Error
	if errors.As(err, &e) && e.Kind == KindAuth {
		return authError("login", e.Err)
	}
	return err
}

// List lists all mailboxes
func (c *imapClient) List(ctx context.Context) ([]parser.Mailbox, error) {
	var folders []parser.Mailbox
	err := c.run(ctx, "list", KindProtocol, func() error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.client.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			folders = append(folders, parser.Mailbox{
				Attributes: m.Attributes,
				Delimiter:  m.Delimiter,
				Name:       m.Name,
			})
		}
		return <-done
	})
	return folders, err
}

// Select selects a folder and returns its status
func (c *imapClient) Select(ctx context.Context, folder string, readOnly bool) (types.FolderStatus, error) {
	var mbox *imap.MailboxStatus
	err := c.run(ctx, "select", KindNotFound, func() error {
		var err error
		mbox, err = c.client.Select(folder, readOnly)
		return err
	})
	if err != nil {
		return types.FolderStatus{}, err
	}
	return types.FolderStatus{
		Name:        folder,
		Messages:    mbox.Messages,
		UIDValidity: mbox.UidValidity,
		UIDNext:     mbox.UidNext,
	}, nil
}

// SearchAll returns the UIDs of every message in the selected folder
func (c *imapClient) SearchAll(ctx context.Context) ([]uint32, error) {
	var uids []uint32
	err := c.run(ctx, "search", KindProtocol, func() error {
		var err error
		uids, err = c.client.UidSearch(imap.NewSearchCriteria())
		return err
	})
	return uids, err
}

// SearchSince returns the UIDs greater than uid
func (c *imapClient) SearchSince(ctx context.Context, uid uint32) ([]uint32, error) {
	if uid == maxUID {
		return []uint32{}, nil
	}
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(uid+1, 0)

	var uids []uint32
	err := c.run(ctx, "search", KindProtocol, func() error {
		var err error
		uids, err = c.client.UidSearch(criteria)
		return err
	})
	return above(uids, uid), err
}

// FetchSummaries fetches envelope, flags and size of the given UIDs, plus
// the head of the body when preview is set
func (c *imapClient) FetchSummaries(ctx context.Context, uids []uint32, preview bool) ([]*parser.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	items := []imap.FetchItem{imap.FetchRFC822Size, imap.FetchUid, imap.FetchFlags, imap.FetchEnvelope}
	if preview && c.cfg.PreviewBytes > 0 {
		items = append(items, previewHeaderSection.FetchItem(), previewTextSection(c.cfg.PreviewBytes).FetchItem())
	}
	return c.fetch(ctx, uids, items)
}

// FetchMessage fetches the full message of one UID
func (c *imapClient) FetchMessage(ctx context.Context, uid uint32) (*parser.Message, error) {
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchRFC822Size, messageSection.FetchItem()}
	msgs, err := c.fetch(ctx, []uint32{uid}, items)
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

func (c *imapClient) fetch(ctx context.Context, uids []uint32, items []imap.FetchItem) ([]*parser.Message, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	var out []*parser.Message
	err := c.run(ctx, "fetch", KindProtocol, func() error {
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.client.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			out = append(out, c.toMessage(msg))
		}
		return <-done
	})
	return out, err
}

// toMessage converts a go-imap message into the parser's record. Body
// sections are told apart by their specifier.
func (c *imapClient) toMessage(msg *imap.Message) *parser.Message {
	m := &parser.Message{
		SeqNum: msg.SeqNum,
		UID:    msg.Uid,
		Flags:  msg.Flags,
		Size:   msg.Size,
	}
	if msg.Envelope != nil {
		m.Envelope = toEnvelope(msg.Envelope)
	}

	for section, literal := range msg.Body {
		if section == nil || literal == nil {
			continue
		}
		data, err := io.ReadAll(literal)
		if err != nil {
			c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Error reading literal")
			continue
		}
		switch section.Specifier {
		case imap.HeaderSpecifier:
			m.PreviewHeader = data
		case imap.TextSpecifier:
			m.Preview = data
		case imap.EntireSpecifier:
			m.Raw = data
		}
	}
	return m
}

func toEnvelope(e *imap.Envelope) *parser.Envelope {
	return &parser.Envelope{
		Date:      e.Date,
		Subject:   e.Subject,
		From:      toAddresses(e.From),
		To:        toAddresses(e.To),
		Cc:        toAddresses(e.Cc),
		MessageID: e.MessageId,
	}
}

func toAddresses(list []*imap.Address) []parser.Address {
	out := make([]parser.Address, 0, len(list))
	for _, a := range list {
		if a == nil {
			continue
		}
		out = append(out, parser.Address{Name: a.PersonalName, Mailbox: a.MailboxName, Host: a.HostName})
	}
	return out
}

// AddFlag adds a flag to one message
func (c *imapClient) AddFlag(ctx context.Context, uid uint32, flag string) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	return c.run(ctx, "store", KindProtocol, func() error {
		return c.client.UidStore(seqSet, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{flag}, nil)
	})
}

// Copy copies one message to another folder
func (c *imapClient) Copy(ctx context.Context, uid uint32, dest string) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	return c.run(ctx, "copy", KindProtocol, func() error {
		return c.client.UidCopy(seqSet, dest)
	})
}

// Expunge permanently removes messages flagged \Deleted
func (c *imapClient) Expunge(ctx context.Context) error {
	return c.run(ctx, "expunge", KindProtocol, func() error {
		return c.client.Expunge(nil)
	})
}

// Logout ends the session
func (c *imapClient) Logout(ctx context.Context) error {
	return c.run(ctx, "logout", KindProtocol, func() error {
		return c.client.Logout()
	})
}

// Close closes the connection
func (c *imapClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.client, c.conn = nil, nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// above keeps the UIDs greater than uid. "UID SEARCH n:*" also matches the
// highest UID when n is beyond it.
func above(uids []uint32, uid uint32) []uint32 {
	out := uids[:0]
	for _, u := range uids {
		if u > uid {
			out = append(out, u)
		}
	}
	return out
}
