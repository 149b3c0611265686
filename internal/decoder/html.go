package decoder

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockElements get a separating space when they close.
var blockElements = map[atom.Atom]bool{
	atom.Div:        true,
	atom.P:          true,
	atom.Br:         true,
	atom.H1:         true,
	atom.H2:         true,
	atom.H3:         true,
	atom.H4:         true,
	atom.H5:         true,
	atom.H6:         true,
	atom.Li:         true,
	atom.Tr:         true,
	atom.Td:         true,
	atom.Table:      true,
	atom.Blockquote: true,
}

// suppressed elements have their content dropped.
var suppressed = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Head:   true,
}

// HTMLToText strips tags, drops script and style content, separates block
// elements with a space and collapses whitespace runs.
func HTMLToText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if suppressed[a] {
				skip++
			} else if a == atom.Br {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[atom.Lookup(name)] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch {
			case suppressed[a]:
				if skip > 0 {
					skip--
				}
			case blockElements[a]:
				b.WriteByte(' ')
			}
		}
	}
}
