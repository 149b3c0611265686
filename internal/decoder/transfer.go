package decoder

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidBase64 is returned for content that is not base64.
	ErrInvalidBase64 = errors.New("invalid base64 content")
	// ErrInvalidQuotedPrintable is returned for a '=' not followed by two
	// hex digits or a line break.
	ErrInvalidQuotedPrintable = errors.New("invalid quoted-printable sequence")
	// ErrUnknownTransferEncoding is returned for encodings other than
	// 7bit, 8bit, binary, base64 and quoted-printable.
	ErrUnknownTransferEncoding = errors.New("unknown transfer encoding")
)

// DecodeTransfer reverses a Content-Transfer-Encoding.
func DecodeTransfer(data []byte, transferEncoding string) ([]byte, error) {
	return decodeTransfer(data, transferEncoding, false)
}

func decodeTransfer(data []byte, transferEncoding string, lenient bool) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		out, err := decodeBase64(data)
		if err != nil && lenient && len(out) > 0 {
			return out, nil
		}
		return out, err
	case "quoted-printable":
		if lenient {
			data = trimPartialEscape(data)
		}
		return DecodeQuotedPrintable(data)
	case "", "7bit", "8bit", "binary":
		return data, nil
	default:
		return data, fmt.Errorf("%w: %q", ErrUnknownTransferEncoding, transferEncoding)
	}
}

// DecodeBase64 decodes base64 content after stripping all whitespace.
// Unpadded input is accepted.
func DecodeBase64(data []byte) ([]byte, error) {
	return decodeBase64(data)
}

// decodeBase64 returns the bytes decoded before the first corrupt quantum
// together with the error, so a truncated body can still be previewed.
func decodeBase64(data []byte) ([]byte, error) {
	clean := make([]byte, 0, len(data))
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
		default:
			clean = append(clean, c)
		}
	}

	dst := make([]byte, len(clean))
	n, err := base64.StdEncoding.Decode(dst, clean)
	if err == nil {
		return dst[:n], nil
	}
	raw := strings.TrimRight(string(clean), "=")
	if out, rawErr := base64.RawStdEncoding.DecodeString(raw); rawErr == nil {
		return out, nil
	}
	return dst[:n], fmt.Errorf("%w: %v", ErrInvalidBase64, err)
}

// DecodeQuotedPrintable decodes quoted-printable content. A '=' at the end
// of a line is a soft line break and is removed with the line break.
func DecodeQuotedPrintable(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		c := data[i]
		if c != '=' {
			out = append(out, c)
			i++
			continue
		}

		// Soft line break, possibly with trailing whitespace before it.
		j := i + 1
		for j < len(data) && (data[j] == ' ' || data[j] == '\t') {
			j++
		}
		switch {
		case j == len(data):
			i = j
			continue
		case data[j] == '\n':
			i = j + 1
			continue
		case data[j] == '\r' && j+1 < len(data) && data[j+1] == '\n':
			i = j + 2
			continue
		}

		if i+2 >= len(data) {
			return nil, fmt.Errorf("%w at offset %d", ErrInvalidQuotedPrintable, i)
		}
		hi, ok1 := unhex(data[i+1])
		lo, ok2 := unhex(data[i+2])
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w at offset %d", ErrInvalidQuotedPrintable, i)
		}
		out = append(out, hi<<4|lo)
		i += 3
	}
	return out, nil
}

// trimPartialEscape drops an escape cut off by a partial fetch.
func trimPartialEscape(data []byte) []byte {
	n := len(data)
	switch {
	case n >= 1 && data[n-1] == '=':
		return data[:n-1]
	case n >= 2 && data[n-2] == '=':
		if _, ok := unhex(data[n-1]); ok {
			return data[:n-2]
		}
	}
	return data
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
