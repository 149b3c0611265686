package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Kind classifies a mailbox operation failure.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindAuth
	KindProtocol
	KindNotFound
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindAuth:
		return "authentication error"
	case KindProtocol:
		return "protocol error"
	case KindNotFound:
		return "not found"
	case KindTimeout:
		return "timeout"
	}
	return "unknown error"
}

// Error is returned by every transport and session operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrProtocol   = &Error{Kind: KindProtocol}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrTimeout    = &Error{Kind: KindTimeout}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify wraps err as an *Error. Network timeouts become KindTimeout and
// other transport failures KindConnection; anything else, typically a
// server rejection, gets the fallback kind.
func classify(op string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, op, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindTimeout, op, err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.As(err, &netErr):
		return newError(KindConnection, op, err)
	}
	return newError(fallback, op, err)
}

// authRewrites maps provider rejection texts to the actionable advice that
// the account needs a provider-issued application code.
var authRewrites = []string{
	"Unsafe Login",
	"kefu@",
	"application-specific password",
	"authorization code",
	"授权码",
}

const appCodeHint = "the provider rejected the account password; generate an application code " +
	"(authorization code) in the mailbox web settings under POP3/SMTP/IMAP and use it as the password"

// authError builds a KindAuth error, rewriting known non-standard
// rejections into appCodeHint. Transport failures keep their own kind.
func authError(op string, err error) error {
	if err == nil {
		return nil
	}
	if c := classify(op, KindAuth, err); !errors.Is(c, ErrAuth) {
		return c
	}
	msg := err.Error()
	for _, pattern := range authRewrites {
		if strings.Contains(msg, pattern) {
			return &Error{Kind: KindAuth, Op: op, Msg: appCodeHint, Err: err}
		}
	}
	return newError(KindAuth, op, err)
}

// protocolErrorf builds a KindProtocol error.
func protocolErrorf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindProtocol, Op: op, Msg: fmt.Sprintf(format, args...)}
}
