package parser

import (
	"time"
)

// Address is one envelope address. Name may still carry RFC 2047 words.
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// Email returns mailbox@host, or whichever part is present.
func (a Address) Email() string {
	switch {
	case a.Mailbox == "":
		return a.Host
	case a.Host == "":
		return a.Mailbox
	}
	return a.Mailbox + "@" + a.Host
}

// Envelope is the structured header summary a server returns for
// FETCH ENVELOPE. Both transports produce it.
type Envelope struct {
	// Date is zero if the server sent none or it could not be parsed.
	Date      time.Time
	Subject   string
	From      []Address
	To        []Address
	Cc        []Address
	MessageID string
}

// envelope fields in RFC 3501 order.
const (
	envDate = iota
	envSubject
	envFrom
	envSender
	envReplyTo
	envTo
	envCc
	envBcc
	envInReplyTo
	envMessageID
)

// parseEnvelope reads an ENVELOPE list. Missing trailing fields are
// tolerated; fields of the wrong type are left empty.
func parseEnvelope(v Value) *Envelope {
	if v.Kind != KindList {
		return nil
	}
	field := func(i int) Value {
		if i < len(v.List) {
			return v.List[i]
		}
		return Value{Kind: KindNil}
	}

	env := &Envelope{
		Subject:   field(envSubject).String(),
		From:      parseAddressList(field(envFrom)),
		To:        parseAddressList(field(envTo)),
		Cc:        parseAddressList(field(envCc)),
		MessageID: field(envMessageID).String(),
	}
	if t, ok := ParseDate(field(envDate).String()); ok {
		env.Date = t
	}
	return env
}

// parseAddressList reads a list of (name adl mailbox host) addresses.
// Group syntax markers (a NIL host) are skipped.
func parseAddressList(v Value) []Address {
	if v.Kind != KindList {
		return nil
	}
	var out []Address
	for _, a := range v.List {
		if a.Kind != KindList || len(a.List) < 4 {
			continue
		}
		addr := Address{
			Name:    a.List[0].String(),
			Mailbox: a.List[2].String(),
			Host:    a.List[3].String(),
		}
		if a.List[3].Kind == KindNil {
			continue
		}
		out = append(out, addr)
	}
	return out
}
