// Package sanitize prepares caller supplied HTML for inclusion in EPUB content documents.
package sanitize

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	anyStyle = regexp.MustCompile(".*")
	policy   = bluemonday.UGCPolicy().
		AllowElements("figure", "figcaption", "center").
		AllowAttrs("style").Matching(anyStyle).Globally()
)

// HTML strips scripts, event handlers and unsafe styling from input while preserving
// document structure, images and inline formatting.
func HTML(input string) (string, error) {
	b := &bytes.Buffer{}
	if err := filterStyleAttrs(b, strings.NewReader(input)); err != nil {
		return "", err
	}
	return policy.Sanitize(b.String()), nil
}

// XHTML re-serializes an HTML fragment as well-formed XHTML suitable for the body of an EPUB
// content document: void elements are self-closed, attributes quoted and text escaped.
func XHTML(input string) (string, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(input), ctx)
	if err != nil {
		return "", err
	}
	b := &strings.Builder{}
	for _, n := range nodes {
		if err := html.Render(b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// Clean runs HTML followed by XHTML.
func Clean(input string) (string, error) {
	safe, err := HTML(input)
	if err != nil {
		return "", err
	}
	return XHTML(safe)
}

// filterStyleAttrs copies r to w, rewriting every style attribute through Style.  Empty
// styles are dropped.
func filterStyleAttrs(w io.Writer, r io.Reader) error {
	bw := bufio.NewWriter(w)
	b := make([]byte, 0, 256)
	z := html.NewTokenizer(r)
	for {
		b = b[:0]
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return bw.Flush()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				if _, err := bw.Write(z.Raw()); err != nil {
					return err
				}
				continue
			}
			b = append(b, '<')
			b = append(b, name...)
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				value := string(val)
				if strings.EqualFold(string(key), "style") {
					if value = Style(value); value == "" {
						continue
					}
				}
				b = append(b, ' ')
				b = append(b, key...)
				b = append(b, `="`...)
				b = append(b, html.EscapeString(value)...)
				b = append(b, '"')
			}
			if tt == html.SelfClosingTagToken {
				b = append(b, '/')
			}
			if _, err := bw.Write(append(b, '>')); err != nil {
				return err
			}
		default:
			if _, err := bw.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}
