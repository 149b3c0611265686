package email

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/parser"
	"github.com/brandon/mailflow/pkg/types"
)

// Transport is one IMAP session over TLS. A Transport is used for a
// single session and then discarded. UIDs are used throughout.
type Transport interface {
	Connect(ctx context.Context) error
	// Login authenticates and performs any post-login handshake the
	// negotiation profile requires.
	Login(ctx context.Context, username, password string) error
	List(ctx context.Context) ([]parser.Mailbox, error)
	Select(ctx context.Context, folder string, readOnly bool) (types.FolderStatus, error)
	SearchAll(ctx context.Context) ([]uint32, error)
	// SearchSince returns UIDs strictly greater than uid.
	SearchSince(ctx context.Context, uid uint32) ([]uint32, error)
	FetchSummaries(ctx context.Context, uids []uint32, preview bool) ([]*parser.Message, error)
	FetchMessage(ctx context.Context, uid uint32) (*parser.Message, error)
	AddFlag(ctx context.Context, uid uint32, flag string) error
	Copy(ctx context.Context, uid uint32, dest string) error
	Expunge(ctx context.Context) error
	Logout(ctx context.Context) error
	// Close drops the connection without logging out.
	Close() error
}

// TransportFactory creates the transport for one session of an account.
type TransportFactory interface {
	New(account types.Account) Transport
}

// ClientIdentity is announced by the post-login handshake.
type ClientIdentity struct {
	Name    string
	Version string
}

// DialConfig holds the connection settings shared by both transports.
type DialConfig struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	Identity       ClientIdentity
	// PreviewBytes is the length of the partial body fetched for
	// summary previews.
	PreviewBytes int
}

// ProfileFactory picks the transport by the account's negotiation
// profile: the go-imap client for standard servers, the hand-rolled
// client for servers that need a handshake right after LOGIN.
type ProfileFactory struct {
	Config DialConfig
	Logger *logrus.Logger
}

// New implements TransportFactory.
func (f *ProfileFactory) New(account types.Account) Transport {
	if account.EffectiveProfile() == types.ProfilePostLoginHandshake {
		return newRawClient(account, f.Config, f.Logger)
	}
	return newIMAPClient(account, f.Config, f.Logger)
}

func tlsConfig(account types.Account) *tls.Config {
	return &tls.Config{
		ServerName:         account.IMAPHost,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: account.InsecureSkipVerify, //nolint:gosec
	}
}

// dialTLS opens the encrypted connection to the account's IMAP server.
func dialTLS(ctx context.Context, account types.Account, timeout time.Duration) (net.Conn, error) {
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    tlsConfig(account),
	}
	conn, err := d.DialContext(ctx, "tcp", account.IMAPAddr())
	if err != nil {
		return nil, classify("dial", KindConnection, err)
	}
	return conn, nil
}
