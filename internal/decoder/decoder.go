// Package decoder turns MIME-encoded headers and bodies into readable text.
//
// Every decode step that fails falls back to a documented default instead of
// aborting: a malformed encoded word is passed through, an invalid transfer
// encoding yields the original bytes, an unknown charset is read as UTF-8
// with a GBK fallback. Each fallback is logged at debug level.
package decoder

import (
	"io"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Decoder decodes headers and bodies, logging every fallback it takes.
type Decoder struct {
	logger *logrus.Logger
}

// New creates a decoder. A nil logger discards fallback logs.
func New(logger *logrus.Logger) *Decoder {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Decoder{logger: logger}
}

// SetLogger sets the logger for the decoder
func (d *Decoder) SetLogger(logger *logrus.Logger) {
	d.logger = logger
}

// DecodeHeader decodes all RFC 2047 encoded words in a header value.
// Malformed words are kept verbatim.
func (d *Decoder) DecodeHeader(s string) string {
	out, errs := decodeHeader(s)
	for _, err := range errs {
		d.logger.WithError(err).Debug("Passing through malformed encoded word")
	}
	return out
}

// DecodeText applies the transfer encoding and charset of an entity to its
// content. If the transfer decoding fails the original bytes are used.
func (d *Decoder) DecodeText(contentType, transferEncoding string, body []byte) string {
	return d.decodeText(contentType, transferEncoding, body, false)
}

func (d *Decoder) decodeText(contentType, transferEncoding string, body []byte, lenient bool) string {
	data, err := decodeTransfer(body, transferEncoding, lenient)
	if err != nil {
		d.logger.WithError(err).WithField("encoding", transferEncoding).Debug("Transfer decoding failed, using raw content")
		data = body
	}
	if lenient {
		data = trimPartialRune(data)
	}

	text, err := DecodeCharset(data, CharsetFromContentType(contentType))
	if err != nil {
		d.logger.WithError(err).Debug("Charset fallback")
	}
	return text
}

// trimPartialRune drops a multi-byte sequence cut off at the end of data.
func trimPartialRune(data []byte) []byte {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return data[:i]
			}
			break
		}
	}
	return data
}
