// Package parser turns IMAP server responses into summary and detail
// records. A malformed field never fails a whole record: each falls back to
// a default and the fallback is logged at debug level.
package parser

import (
	"bytes"
	"io"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/decoder"
	"github.com/brandon/mailflow/pkg/types"
)

const (
	// DefaultSubject is used when a message has no decodable subject.
	DefaultSubject = "(no subject)"
	// DefaultSender is used when a message has no usable sender.
	DefaultSender = "Unknown sender"

	// PreviewLength and SummaryBodyLength bound the text carried by a
	// summary, in characters.
	PreviewLength     = 200
	SummaryBodyLength = 1000
)

// IMAP system flags mapped to the read and starred markers.
const (
	FlagSeen    = `\Seen`
	FlagFlagged = `\Flagged`
	FlagDeleted = `\Deleted`
)

// Parser builds types.EmailSummary and types.Email values.
type Parser struct {
	decoder *decoder.Decoder
	logger  *logrus.Logger
	now     func() time.Time
}

// New creates a parser. A nil decoder or logger gets a silent default.
func New(dec *decoder.Decoder, logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if dec == nil {
		dec = decoder.New(logger)
	}
	return &Parser{decoder: dec, logger: logger, now: time.Now}
}

// SetLogger sets the logger for the parser
func (p *Parser) SetLogger(logger *logrus.Logger) {
	p.logger = logger
	p.decoder.SetLogger(logger)
}

// Summary builds an EmailSummary from an envelope-carrying FETCH record.
// It reports false for records without an envelope, which callers skip.
func (p *Parser) Summary(accountID string, m *Message) (types.EmailSummary, bool) {
	if m == nil || m.Envelope == nil {
		return types.EmailSummary{}, false
	}
	log := p.logger.WithField("uid", m.UID)
	env := m.Envelope

	subject := strings.TrimSpace(p.decoder.DecodeHeader(env.Subject))
	if subject == "" {
		subject = DefaultSubject
	}

	from := DefaultSender
	if len(env.From) > 0 {
		a := env.From[0]
		switch {
		case strings.TrimSpace(a.Name) != "":
			from = strings.TrimSpace(p.decoder.DecodeHeader(a.Name))
		case a.Mailbox != "":
			from = a.Mailbox
		}
	} else {
		log.Debug("Envelope has no sender, using placeholder")
	}

	date := env.Date
	if date.IsZero() {
		log.Debug("Envelope date missing or unparseable, using current time")
		date = p.now()
	}

	read, starred := ParseFlags(m.Flags)
	s := types.EmailSummary{
		ID:        types.EmailID(accountID, m.UID),
		UID:       m.UID,
		Subject:   subject,
		From:      from,
		Date:      date.UTC().Format(time.RFC3339),
		IsRead:    read,
		IsStarred: starred,
	}

	if m.Preview != nil {
		body := p.decoder.DecodePreview(m.PreviewHeader, m.Preview)
		s.Preview = Truncate(strings.Join(strings.Fields(body.Text), " "), PreviewLength)
		s.Body = Truncate(strings.TrimSpace(body.Text), SummaryBodyLength)
		s.HasAttachment = body.HasAttachment
	}
	return s, true
}

// Detail builds a fully decoded Email from a FETCH record carrying the raw
// RFC 822 message.
func (p *Parser) Detail(accountID, folder string, m *Message) types.Email {
	log := p.logger.WithField("uid", m.UID)
	raw := m.Raw

	subject := strings.TrimSpace(p.decoder.DecodeHeader(ExtractHeader(raw, "Subject")))
	if subject == "" {
		subject = DefaultSubject
	}
	from := strings.TrimSpace(p.decoder.DecodeHeader(ExtractHeader(raw, "From")))
	if from == "" {
		from = DefaultSender
	}

	var to []string
	for _, addr := range SplitAddressList(ExtractHeader(raw, "To")) {
		to = append(to, p.decoder.DecodeHeader(addr))
	}

	date, ok := ParseDate(ExtractHeader(raw, "Date"))
	if !ok {
		log.Debug("Date header missing or unparseable, using current time")
		date = p.now()
	}

	body := p.decoder.DecodeMessage(raw)
	read, starred := ParseFlags(m.Flags)
	email := types.Email{
		ID:            types.EmailID(accountID, m.UID),
		UID:           m.UID,
		Subject:       subject,
		From:          from,
		To:            to,
		Date:          date.UTC(),
		Body:          body.Text,
		Folder:        folder,
		Flags:         m.Flags,
		IsRead:        read,
		IsStarred:     starred,
		HasAttachment: body.HasAttachment,
		Size:          uint64(len(raw)),
	}
	if email.To == nil {
		email.To = []string{}
	}
	if email.Flags == nil {
		email.Flags = []string{}
	}
	if body.HTML != "" {
		html := body.HTML
		email.HTMLBody = &html
	}
	if m.Size > 0 {
		email.Size = uint64(m.Size)
	}
	return email
}

// ParseFlags maps \Seen and \Flagged to the read and starred markers.
func ParseFlags(flags []string) (read, starred bool) {
	for _, f := range flags {
		switch {
		case strings.EqualFold(f, FlagSeen):
			read = true
		case strings.EqualFold(f, FlagFlagged):
			starred = true
		}
	}
	return read, starred
}

// ParseDate parses an RFC 2822 date, tolerating a trailing zone comment.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := mail.ParseDate(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ExtractHeader returns the value of the first header line whose name is
// exactly name (case-sensitive), with folded continuation lines joined.
// Scanning stops at the blank line ending the header block.
func ExtractHeader(raw []byte, name string) string {
	prefix := []byte(name + ":")
	var (
		value []byte
		found bool
	)
	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}
		if found {
			if line[0] != ' ' && line[0] != '\t' {
				break
			}
			value = append(value, ' ')
			value = append(value, bytes.TrimSpace(line)...)
			continue
		}
		if bytes.HasPrefix(line, prefix) {
			value = append(value, bytes.TrimSpace(line[len(prefix):])...)
			found = true
		}
	}
	return string(value)
}

// SplitAddressList splits a header value on commas outside quotes and
// angle brackets.
func SplitAddressList(s string) []string {
	var (
		out    []string
		quoted bool
		angle  int
		start  int
	)
	add := func(part string) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			quoted = !quoted
		case '<':
			if !quoted {
				angle++
			}
		case '>':
			if !quoted && angle > 0 {
				angle--
			}
		case ',':
			if !quoted && angle == 0 {
				add(s[start:i])
				start = i + 1
			}
		}
	}
	if start < len(s) {
		add(s[start:])
	}
	return out
}

// Truncate shortens s to at most n characters.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
