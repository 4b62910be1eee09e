package message

import (
	"encoding/base64"
	"mime"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultFilename is used when nothing printable survives filename sanitizing.
const DefaultFilename = "Article.epub"

// SanitizeHeader removes line breaks from a header value so it cannot start a new header.
func SanitizeHeader(v string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(v)
}

// EncodeSubject returns s unchanged when it is pure ASCII, otherwise as a single RFC 2047
// base64 encoded-word.
func EncodeSubject(s string) string {
	s = SanitizeHeader(s)
	if isASCII(s) {
		return s
	}
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(s)) + "?="
}

// EncodeAddress returns an address header value with a non-ASCII display name as an RFC 2047
// encoded-word.  Pure ASCII values are returned unchanged.
func EncodeAddress(v string) string {
	v = SanitizeHeader(v)
	if isASCII(v) {
		return v
	}
	a, err := mail.ParseAddress(v)
	if err != nil {
		return mime.BEncoding.Encode("UTF-8", v)
	}
	return a.String()
}

// FallbackFilename reduces name to printable ASCII for the plain filename parameter: accents
// are stripped, other non-ASCII and control characters dropped, quotes and backslashes
// replaced and whitespace collapsed.
func FallbackFilename(name string) string {
	// Decompose accented characters and drop the combining marks.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	b := &strings.Builder{}
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case r >= utf8.RuneSelf, r < 0x20, r == 0x7f:
			continue
		case r == '"', r == '\\':
			r = '_'
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if out == "" || strings.HasPrefix(out, ".") {
		return DefaultFilename
	}
	return out
}

// ExtendedFilename encodes name as an RFC 5987 ext-value.  Characters outside the
// encodeURIComponent unreserved set are percent-encoded as UTF-8.
func ExtendedFilename(name string) string {
	const hex = "0123456789ABCDEF"
	b := &strings.Builder{}
	b.WriteString("UTF-8''")
	for _, c := range []byte(SanitizeHeader(name)) {
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

// DotStuff doubles the leading period of every line in b, leaving line endings untouched.
func DotStuff(b []byte) []byte {
	out := make([]byte, 0, len(b)+16)
	start := true
	for _, c := range b {
		if start && c == '.' {
			out = append(out, '.')
		}
		out = append(out, c)
		start = c == '\n'
	}
	return out
}

// unreserved reports whether encodeURIComponent leaves c as is.
func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
