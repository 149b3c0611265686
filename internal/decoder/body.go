package decoder

import (
	"bytes"
	"strings"
)

// maxMultipartDepth bounds multipart unwrapping: a top-level multipart and
// one nested multipart inside it are walked, anything deeper is skipped.
const maxMultipartDepth = 2

// Body is a message body reduced to readable text.
type Body struct {
	// Text is the text/plain part verbatim if one exists, otherwise the
	// first text/html part reduced to plain text.
	Text string
	// HTML is the first text/html part, decoded but not reduced.
	HTML string
	// HasAttachment is set if any part is an attachment.
	HasAttachment bool
}

// collected accumulates candidate parts while walking a multipart tree.
type collected struct {
	plain, html       string
	hasPlain, hasHTML bool
	attachment        bool
}

func (c *collected) merge(o collected) {
	if o.hasPlain && !c.hasPlain {
		c.plain, c.hasPlain = o.plain, true
	}
	if o.hasHTML && !c.hasHTML {
		c.html, c.hasHTML = o.html, true
	}
	c.attachment = c.attachment || o.attachment
}

// DecodeMessage splits a raw RFC 5322 message and decodes its body.
func (d *Decoder) DecodeMessage(raw []byte) Body {
	header, body := SplitHeader(raw)
	return d.DecodeBody(HeaderValue(header, "Content-Type"), HeaderValue(header, "Content-Transfer-Encoding"), body)
}

// DecodeBody decodes an entity body described by its Content-Type and
// Content-Transfer-Encoding.
func (d *Decoder) DecodeBody(contentType, transferEncoding string, body []byte) Body {
	return d.decodeBody(contentType, transferEncoding, body, false)
}

// DecodePreview decodes the head of a body fetched with a partial range.
// Truncated base64 quanta and escapes at the cut are tolerated and a
// missing closing boundary is not required.
func (d *Decoder) DecodePreview(header, partial []byte) Body {
	return d.decodeBody(HeaderValue(header, "Content-Type"), HeaderValue(header, "Content-Transfer-Encoding"), partial, true)
}

func (d *Decoder) decodeBody(contentType, transferEncoding string, body []byte, lenient bool) Body {
	c := d.walk(contentType, transferEncoding, "", body, 0, lenient)
	out := Body{HasAttachment: c.attachment}
	switch {
	case c.hasPlain:
		out.Text = c.plain
		if c.hasHTML {
			out.HTML = c.html
		}
	case c.hasHTML:
		out.Text = HTMLToText(c.html)
		out.HTML = c.html
	}
	return out
}

func (d *Decoder) walk(contentType, transferEncoding, disposition string, body []byte, depth int, lenient bool) collected {
	media := MediaType(contentType)
	if media == "" {
		media = "text/plain"
	}

	if depth > 0 && IsAttachment(disposition, contentType) {
		return collected{attachment: true}
	}

	if strings.HasPrefix(media, "multipart/") {
		boundary := Param(contentType, "boundary")
		switch {
		case boundary == "":
			d.logger.WithField("content_type", contentType).Debug("Multipart without boundary, reading as plain text")
		case depth >= maxMultipartDepth:
			d.logger.WithField("depth", depth).Debug("Skipping deeply nested multipart")
			return collected{}
		default:
			var c collected
			for _, part := range SplitMultipart(body, boundary) {
				ph, pb := SplitHeader(part)
				c.merge(d.walk(
					HeaderValue(ph, "Content-Type"),
					HeaderValue(ph, "Content-Transfer-Encoding"),
					HeaderValue(ph, "Content-Disposition"),
					pb, depth+1, lenient,
				))
			}
			return c
		}
		media = "text/plain"
	}

	switch media {
	case "text/plain":
		return collected{plain: d.decodeText(contentType, transferEncoding, body, lenient), hasPlain: true}
	case "text/html":
		return collected{html: d.decodeText(contentType, transferEncoding, body, lenient), hasHTML: true}
	default:
		// Any other leaf carries binary content, e.g. an inline image.
		return collected{attachment: true}
	}
}

// SplitHeader splits an entity at the first blank line. An entity starting
// with a blank line has no header; one without any blank line is all header.
func SplitHeader(raw []byte) (header, body []byte) {
	if bytes.HasPrefix(raw, []byte("\r\n")) {
		return nil, raw[2:]
	}
	if bytes.HasPrefix(raw, []byte("\n")) {
		return nil, raw[1:]
	}
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf+2], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf+1], raw[lf+2:]
	}
	return raw, nil
}

// HeaderValue returns the unfolded value of the first header field with the
// given name, compared case-insensitively.
func HeaderValue(header []byte, name string) string {
	var (
		value string
		found bool
	)
	for _, line := range splitLines(header) {
		if found {
			if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
				value += " " + strings.TrimSpace(string(line))
				continue
			}
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(string(line[:colon])), name) {
			value = strings.TrimSpace(string(line[colon+1:]))
			found = true
		}
	}
	return value
}

// SplitMultipart returns the parts between "--boundary" delimiter lines,
// stopping at the "--boundary--" end marker. The preamble and epilogue are
// dropped. Line breaks inside parts are normalized to LF.
func SplitMultipart(body []byte, boundary string) [][]byte {
	const (
		preamble = iota
		inPart
	)

	delim := []byte("--" + boundary)
	var (
		parts [][]byte
		cur   []byte
		state = preamble
	)
	closePart := func() {
		parts = append(parts, bytes.TrimSuffix(cur, []byte("\n")))
		cur = nil
	}

	for _, line := range splitLines(body) {
		trimmed := bytes.TrimRight(line, " \t")
		if bytes.HasPrefix(trimmed, delim) {
			rest := trimmed[len(delim):]
			if bytes.Equal(rest, []byte("--")) {
				if state == inPart {
					closePart()
				}
				return parts
			}
			if len(rest) == 0 {
				if state == inPart {
					closePart()
				}
				state = inPart
				continue
			}
		}
		if state == inPart {
			cur = append(cur, line...)
			cur = append(cur, '\n')
		}
	}
	if state == inPart {
		closePart()
	}
	return parts
}

// MediaType returns the lower-cased type/subtype of a Content-Type value.
func MediaType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// Param returns a parameter of a structured header value such as
// Content-Type or Content-Disposition. Names compare case-insensitively.
func Param(value, name string) string {
	segments := splitParams(value)
	for _, seg := range segments[min(1, len(segments)):] {
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(seg[:eq]), name) {
			v := strings.TrimSpace(seg[eq+1:])
			if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
				v = strings.ReplaceAll(v[1:len(v)-1], `\"`, `"`)
			}
			return v
		}
	}
	return ""
}

// splitParams splits on ';' outside quoted strings.
func splitParams(value string) []string {
	var (
		segs   []string
		quoted bool
		start  int
	)
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ';':
			if !quoted {
				segs = append(segs, value[start:i])
				start = i + 1
			}
		}
	}
	return append(segs, value[start:])
}

// IsAttachment reports whether a part is an attachment, judged by its
// disposition or a file name parameter.
func IsAttachment(disposition, contentType string) bool {
	if strings.EqualFold(MediaType(disposition), "attachment") {
		return true
	}
	return Param(disposition, "filename") != "" || Param(contentType, "name") != ""
}

// splitLines splits on LF and drops a trailing CR from each line.
func splitLines(b []byte) [][]byte {
	if len(b) == 0 {
		return nil
	}
	lines := bytes.Split(b, []byte("\n"))
	if len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = bytes.TrimSuffix(l, []byte("\r"))
	}
	return lines
}
