package parser

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Message is one FETCH record as produced by either transport.
type Message struct {
	SeqNum   uint32
	UID      uint32
	Flags    []string
	Size     uint32
	Envelope *Envelope
	// Raw is the full RFC 822 message, when fetched.
	Raw []byte
	// PreviewHeader and Preview are the MIME header fields and the head
	// of the text, when a preview was fetched.
	PreviewHeader []byte
	Preview       []byte
}

// ParseFetch parses an untagged "* n FETCH (...)" response. Items it does
// not know are skipped.
func ParseFetch(resp []byte) (*Message, error) {
	vals, err := NewReader(resp).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(vals) < 4 || vals[0].String() != "*" || !strings.EqualFold(vals[2].String(), "FETCH") || vals[3].Kind != KindList {
		return nil, fmt.Errorf("%w: not a FETCH response", ErrSyntax)
	}
	seq, ok := vals[1].Uint()
	if !ok {
		return nil, fmt.Errorf("%w: invalid sequence number %q", ErrSyntax, vals[1].String())
	}

	msg := &Message{SeqNum: seq}
	items := vals[3].List
	for i := 0; i+1 < len(items); i += 2 {
		key := strings.ToUpper(items[i].String())
		val := items[i+1]
		switch {
		case key == "UID":
			msg.UID, _ = val.Uint()
		case key == "FLAGS":
			for _, f := range val.List {
				msg.Flags = append(msg.Flags, f.String())
			}
		case key == "RFC822.SIZE":
			msg.Size, _ = val.Uint()
		case key == "ENVELOPE":
			msg.Envelope = parseEnvelope(val)
		case key == "RFC822" || key == "BODY[]":
			msg.Raw = val.Bytes
		case strings.HasPrefix(key, "BODY[HEADER"):
			msg.PreviewHeader = val.Bytes
		case strings.HasPrefix(key, "BODY[TEXT]"):
			msg.Preview = val.Bytes
		}
	}
	return msg, nil
}

// ParseSearch parses an untagged "* SEARCH n n ..." response. The first
// two tokens are skipped; tokens that are not numbers are ignored.
func ParseSearch(line string) []uint32 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}
	var out []uint32
	for _, f := range fields[2:] {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// SortDesc sorts UIDs newest first and keeps at most limit of them. A
// limit of zero or less keeps all.
func SortDesc(uids []uint32, limit int) []uint32 {
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	return uids
}

// ParseExists parses an untagged "* n EXISTS" response.
func ParseExists(line string) (uint32, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "*" || !strings.EqualFold(fields[2], "EXISTS") {
		return 0, false
	}
	n, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// ParseStatusCode extracts a numeric response code such as
// "[UIDVALIDITY 3857529045]" from a status response line.
func ParseStatusCode(line, code string) (uint32, bool) {
	i := strings.Index(line, "["+code+" ")
	if i < 0 {
		return 0, false
	}
	rest := line[i+len(code)+2:]
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(rest[:end]), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Mailbox is one LIST response. Name is still in modified UTF-7.
type Mailbox struct {
	Attributes []string
	Delimiter  string
	Name       string
}

// HasAttribute reports whether the mailbox carries a name attribute.
func (m Mailbox) HasAttribute(attr string) bool {
	for _, a := range m.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// ParseList parses an untagged "* LIST (attrs) delim name" response.
func ParseList(resp []byte) (Mailbox, error) {
	vals, err := NewReader(resp).ReadAll()
	if err != nil {
		return Mailbox{}, err
	}
	if len(vals) < 5 || vals[0].String() != "*" || !strings.EqualFold(vals[1].String(), "LIST") || vals[2].Kind != KindList {
		return Mailbox{}, fmt.Errorf("%w: not a LIST response", ErrSyntax)
	}
	mb := Mailbox{Delimiter: vals[3].String(), Name: vals[4].String()}
	for _, a := range vals[2].List {
		mb.Attributes = append(mb.Attributes, a.String())
	}
	return mb, nil
}

// Status is a tagged completion or untagged condition response.
type Status struct {
	Tag  string
	Type string // OK, NO or BAD (BYE, PREAUTH for untagged ones)
	Text string
}

// ParseStatus parses "tag OK|NO|BAD text".
func ParseStatus(line []byte) (Status, bool) {
	line = bytes.TrimRight(line, "\r\n")
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 {
		return Status{}, false
	}
	st := Status{Tag: parts[0], Type: strings.ToUpper(parts[1])}
	switch st.Type {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
	default:
		return Status{}, false
	}
	if len(parts) == 3 {
		st.Text = parts[2]
	}
	return st, true
}
