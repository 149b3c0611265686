package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every tokenizer error.
var ErrSyntax = errors.New("imap syntax error")

// Kind is the type of a Value.
type Kind int

const (
	KindAtom Kind = iota
	KindString
	KindList
	KindNil
)

// Value is one IMAP data item: an atom, a quoted or literal string, a
// parenthesized list or NIL.
type Value struct {
	Kind  Kind
	Bytes []byte
	List  []Value
}

// String returns the text of an atom or string, "" for NIL and lists.
func (v Value) String() string {
	if v.Kind == KindAtom || v.Kind == KindString {
		return string(v.Bytes)
	}
	return ""
}

// Uint parses an atom as an unsigned 32-bit number.
func (v Value) Uint() (uint32, bool) {
	if v.Kind != KindAtom {
		return 0, false
	}
	n, err := strconv.ParseUint(string(v.Bytes), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// Reader tokenizes one complete server response. Literals must already be
// inlined: "{n}" followed by CRLF and exactly n bytes.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over a response.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, r.pos, fmt.Sprintf(format, args...))
}

func (r *Reader) skipSpace() {
	for r.pos < len(r.buf) {
		switch r.buf[r.pos] {
		case ' ', '\t', '\r', '\n':
			r.pos++
		default:
			return
		}
	}
}

// Next returns the next value, or io.EOF when the response is exhausted.
func (r *Reader) Next() (Value, error) {
	r.skipSpace()
	if r.pos >= len(r.buf) {
		return Value{}, io.EOF
	}
	switch r.buf[r.pos] {
	case '(':
		return r.readList()
	case ')':
		return Value{}, r.errorf("unexpected ')'")
	case '"':
		return r.readQuoted()
	case '{':
		return r.readLiteral()
	default:
		return r.readAtom()
	}
}

// ReadAll returns every remaining value.
func (r *Reader) ReadAll() ([]Value, error) {
	var out []Value
	for {
		v, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

func (r *Reader) readList() (Value, error) {
	r.pos++ // (
	list := Value{Kind: KindList, List: []Value{}}
	for {
		r.skipSpace()
		if r.pos >= len(r.buf) {
			return list, r.errorf("unterminated list")
		}
		if r.buf[r.pos] == ')' {
			r.pos++
			return list, nil
		}
		v, err := r.Next()
		if err != nil {
			return list, err
		}
		list.List = append(list.List, v)
	}
}

func (r *Reader) readQuoted() (Value, error) {
	r.pos++ // "
	var b []byte
	for r.pos < len(r.buf) {
		c := r.buf[r.pos]
		r.pos++
		switch c {
		case '\\':
			if r.pos >= len(r.buf) {
				return Value{}, r.errorf("unterminated quoted string")
			}
			b = append(b, r.buf[r.pos])
			r.pos++
		case '"':
			return Value{Kind: KindString, Bytes: b}, nil
		default:
			b = append(b, c)
		}
	}
	return Value{}, r.errorf("unterminated quoted string")
}

func (r *Reader) readLiteral() (Value, error) {
	end := bytes.IndexByte(r.buf[r.pos:], '}')
	if end < 0 {
		return Value{}, r.errorf("unterminated literal size")
	}
	spec := strings.TrimSuffix(string(r.buf[r.pos+1:r.pos+end]), "+")
	n, err := strconv.Atoi(spec)
	if err != nil || n < 0 {
		return Value{}, r.errorf("invalid literal size %q", spec)
	}
	r.pos += end + 1

	switch {
	case bytes.HasPrefix(r.buf[r.pos:], []byte("\r\n")):
		r.pos += 2
	case bytes.HasPrefix(r.buf[r.pos:], []byte("\n")):
		r.pos++
	default:
		return Value{}, r.errorf("literal size not followed by a line break")
	}
	if r.pos+n > len(r.buf) {
		return Value{}, r.errorf("literal of %d bytes truncated", n)
	}
	v := Value{Kind: KindString, Bytes: r.buf[r.pos : r.pos+n]}
	r.pos += n
	return v, nil
}

// readAtom reads up to a delimiter. A bracketed section such as
// BODY[HEADER.FIELDS (SUBJECT)] or a partial suffix <0> stays in the atom.
func (r *Reader) readAtom() (Value, error) {
	start := r.pos
	depth := 0
loop:
	for r.pos < len(r.buf) {
		c := r.buf[r.pos]
		switch {
		case c == '[':
			depth++
		case c == ']':
			if depth > 0 {
				depth--
			}
		case depth > 0:
		case c == ' ' || c == '(' || c == ')' || c == '"' || c == '{' || c == '\r' || c == '\n':
			break loop
		}
		r.pos++
	}
	atom := r.buf[start:r.pos]
	if strings.EqualFold(string(atom), "NIL") {
		return Value{Kind: KindNil}, nil
	}
	return Value{Kind: KindAtom, Bytes: atom}, nil
}

// LiteralSize reports whether a response line ends with a literal size
// announcement "{n}" and returns n.
func LiteralSize(line []byte) (int, bool) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) < 3 || line[len(line)-1] != '}' {
		return 0, false
	}
	open := bytes.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(string(line[open+1:len(line)-1]), "+"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
