package decoder

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// CharsetError reports that the declared charset could not be used as is.
// The text returned alongside it is still usable.
type CharsetError struct {
	Charset  string
	Fallback string
}

func (e *CharsetError) Error() string {
	if e.Charset == "" {
		return fmt.Sprintf("no charset declared, decoded as %s", e.Fallback)
	}
	return fmt.Sprintf("charset %q decoded as %s", e.Charset, e.Fallback)
}

// CharsetFromContentType extracts the lower-cased charset parameter of a
// Content-Type value. It returns "" if there is none.
func CharsetFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	i := strings.Index(lower, "charset=")
	if i < 0 {
		return ""
	}
	v := lower[i+len("charset="):]
	if j := strings.IndexAny(v, "; \t\r\n"); j >= 0 {
		v = v[:j]
	}
	return strings.Trim(v, `"'`)
}

// lookupCharset returns the decoder for a charset name. A nil encoding with
// ok set means UTF-8 (or its ASCII subset).
func lookupCharset(name string) (enc encoding.Encoding, ok bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return nil, true
	case "gbk", "gb2312", "x-gbk", "cp936", "euc-cn":
		return simplifiedchinese.GBK, true
	case "gb18030":
		return simplifiedchinese.GB18030, true
	case "big5", "big-5", "x-big5":
		return traditionalchinese.Big5, true
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1", "l1":
		return charmap.ISO8859_1, true
	}
	return nil, false
}

// DecodeCharset converts data in the named charset to UTF-8.
//
// UTF-8, GBK/GB2312/GB18030, Big5 and ISO-8859-1 have explicit decoders. An
// absent or unrecognized charset is read as UTF-8, and as GBK if the bytes
// are not valid UTF-8; a *CharsetError is returned together with the text in
// that case.
func DecodeCharset(data []byte, charset string) (string, error) {
	enc, ok := lookupCharset(charset)
	if ok {
		if enc == nil {
			if utf8.Valid(data) {
				return string(data), nil
			}
			return strings.ToValidUTF8(string(data), "\uFFFD"), &CharsetError{Charset: charset, Fallback: "lossy utf-8"}
		}
		out, err := enc.NewDecoder().Bytes(data)
		if err == nil {
			return string(out), nil
		}
		return strings.ToValidUTF8(string(data), "\uFFFD"), &CharsetError{Charset: charset, Fallback: "lossy utf-8"}
	}

	if utf8.Valid(data) {
		if charset == "" {
			return string(data), nil
		}
		return string(data), &CharsetError{Charset: charset, Fallback: "utf-8"}
	}
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data)
	if err == nil {
		return string(out), &CharsetError{Charset: charset, Fallback: "gbk"}
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), &CharsetError{Charset: charset, Fallback: "lossy utf-8"}
}
