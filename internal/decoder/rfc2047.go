package decoder

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedWord is wrapped by WordError for tokens that start like an
// encoded word but do not follow =?charset?encoding?data?= syntax.
var ErrMalformedWord = errors.New("malformed encoded word")

// WordError describes an encoded word that could not be decoded.
type WordError struct {
	Word string
	Err  error
}

func (e *WordError) Error() string {
	return fmt.Sprintf("encoded word %q: %v", e.Word, e.Err)
}

func (e *WordError) Unwrap() error { return e.Err }

// DecodeHeader decodes every RFC 2047 encoded word in s. Malformed words are
// passed through unchanged; whitespace between two adjacent encoded words is
// dropped.
func DecodeHeader(s string) string {
	out, _ := decodeHeader(s)
	return out
}

func decodeHeader(s string) (string, []error) {
	if !strings.Contains(s, "=?") {
		return s, nil
	}

	var (
		b        strings.Builder
		errs     []error
		pending  strings.Builder // whitespace following an encoded word
		lastWord bool
	)
	flush := func() {
		b.WriteString(pending.String())
		pending.Reset()
	}

	for i := 0; i < len(s); {
		if s[i] == '=' && i+1 < len(s) && s[i+1] == '?' {
			text, n, err := decodeWord(s[i:])
			if err == nil {
				if lastWord {
					pending.Reset()
				} else {
					flush()
				}
				b.WriteString(text)
				lastWord = true
				i += n
				continue
			}
			errs = append(errs, err)
			flush()
			lastWord = false
			b.WriteString("=?")
			i += 2
			continue
		}

		c := s[i]
		if lastWord && (c == ' ' || c == '\t' || c == '\r' || c == '\n') {
			pending.WriteByte(c)
			i++
			continue
		}
		flush()
		lastWord = false
		b.WriteByte(c)
		i++
	}
	flush()
	return b.String(), errs
}

// decodeWord decodes the encoded word at the start of s and reports how
// many bytes it spans.
func decodeWord(s string) (string, int, error) {
	malformed := func(end int) (string, int, error) {
		if end > len(s) {
			end = len(s)
		}
		return "", 0, &WordError{Word: s[:end], Err: ErrMalformedWord}
	}

	// =?charset?
	q1 := strings.IndexByte(s[2:], '?')
	if q1 <= 0 {
		return malformed(len(s))
	}
	q1 += 2
	charset := s[2:q1]
	if strings.ContainsAny(charset, " \t\r\n") {
		return malformed(q1)
	}
	if star := strings.IndexByte(charset, '*'); star >= 0 {
		charset = charset[:star] // RFC 2231 language suffix
	}

	// encoding?
	if q1+2 >= len(s) || s[q1+2] != '?' {
		return malformed(q1 + 2)
	}
	enc := s[q1+1]

	// data?=
	start := q1 + 3
	end := strings.Index(s[start:], "?=")
	if end < 0 {
		return malformed(len(s))
	}
	end += start
	data := s[start:end]
	if strings.ContainsAny(data, " \t\r\n") {
		return malformed(end + 2)
	}

	var (
		raw []byte
		err error
	)
	switch enc {
	case 'B', 'b':
		raw, err = decodeBase64([]byte(data))
	case 'Q', 'q':
		raw, err = decodeQ(data)
	default:
		err = fmt.Errorf("%w: unknown encoding %q", ErrMalformedWord, enc)
	}
	if err != nil {
		return "", 0, &WordError{Word: s[:end+2], Err: err}
	}

	// The charset fallback always yields usable text.
	text, _ := DecodeCharset(raw, charset)
	return text, end + 2, nil
}

// decodeQ decodes the Q encoding: '_' is a space, =XX a hex byte.
func decodeQ(data string) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		switch c := data[i]; c {
		case '_':
			out = append(out, ' ')
		case '=':
			if i+2 >= len(data) {
				return nil, fmt.Errorf("%w at offset %d", ErrInvalidQuotedPrintable, i)
			}
			hi, ok1 := unhex(data[i+1])
			lo, ok2 := unhex(data[i+2])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("%w at offset %d", ErrInvalidQuotedPrintable, i)
			}
			out = append(out, hi<<4|lo)
			i += 2
		default:
			out = append(out, c)
		}
	}
	return out, nil
}
