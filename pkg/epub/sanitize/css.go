package sanitize

import (
	"bytes"
	"strings"

	"github.com/gorilla/css/scanner"
)

// Inline style properties that reading systems honor and that cannot reach outside the
// content document.
var allowedProperties = map[string]struct{}{
	"background-color": {},
	"border":           {},
	"border-bottom":    {},
	"border-collapse":  {},
	"border-left":      {},
	"border-right":     {},
	"border-top":       {},
	"clear":            {},
	"color":            {},
	"display":          {},
	"float":            {},
	"font-family":      {},
	"font-size":        {},
	"font-style":       {},
	"font-variant":     {},
	"font-weight":      {},
	"height":           {},
	"letter-spacing":   {},
	"line-height":      {},
	"list-style-type":  {},
	"margin":           {},
	"margin-bottom":    {},
	"margin-left":      {},
	"margin-right":     {},
	"margin-top":       {},
	"max-width":        {},
	"padding":          {},
	"padding-bottom":   {},
	"padding-left":     {},
	"padding-right":    {},
	"padding-top":      {},
	"text-align":       {},
	"text-decoration":  {},
	"text-indent":      {},
	"text-transform":   {},
	"vertical-align":   {},
	"white-space":      {},
	"width":            {},
}

// cssState consumes one token and returns the next state, or nil to reject the whole style.
type cssState func(b *bytes.Buffer, t *scanner.Token) cssState

// Style filters a CSS declaration list down to allowed properties.  An empty string means
// nothing survived.
func Style(input string) string {
	b := &bytes.Buffer{}
	scan := scanner.New(input)
	state := cssExpectProperty
	for {
		t := scan.Next()
		switch t.Type {
		case scanner.TokenEOF:
			return strings.TrimSpace(b.String())
		case scanner.TokenError:
			return ""
		}
		state = state(b, t)
		if state == nil {
			return ""
		}
	}
}

func cssExpectProperty(b *bytes.Buffer, t *scanner.Token) cssState {
	switch t.Type {
	case scanner.TokenIdent:
		if _, ok := allowedProperties[strings.ToLower(t.Value)]; !ok {
			return cssSkipDeclaration
		}
		b.WriteString(t.Value)
		return cssCopyDeclaration
	case scanner.TokenS:
		return cssExpectProperty
	case scanner.TokenChar:
		if t.Value == ";" {
			return cssExpectProperty
		}
	}
	return cssSkipDeclaration
}

func cssSkipDeclaration(b *bytes.Buffer, t *scanner.Token) cssState {
	if t.Type == scanner.TokenChar && t.Value == ";" {
		return cssExpectProperty
	}
	return cssSkipDeclaration
}

func cssCopyDeclaration(b *bytes.Buffer, t *scanner.Token) cssState {
	// url() and expression() may fetch or execute, reject the whole style.
	if t.Type == scanner.TokenURI ||
		(t.Type == scanner.TokenFunction && strings.EqualFold(t.Value, "expression(")) {
		return nil
	}
	b.WriteString(t.Value)
	if t.Type == scanner.TokenChar && t.Value == ";" {
		return cssExpectProperty
	}
	return cssCopyDeclaration
}
