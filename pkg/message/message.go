// Package message builds the outbound email that carries a generated book.
package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMediaType is used for attachments that do not declare one.
	DefaultMediaType = "application/epub+zip"

	base64LineLen = 76
)

// ErrMissingAddress is returned when the sender or recipient is empty.
var ErrMissingAddress = errors.New("message: sender and recipient are required")

// Attachment is the single binary part of a Message.
type Attachment struct {
	Filename  string
	MediaType string
	Data      []byte
}

// Message holds the content of an outbound email.
type Message struct {
	From       string
	To         string
	Subject    string
	Text       string // Plain text lead-in.
	Date       time.Time
	Attachment Attachment
}

// Encoder serializes messages.  The zero value is ready to use.
type Encoder struct {
	// NewBoundary returns the multipart boundary, defaults to a random token.
	NewBoundary func() string

	// NewMessageID returns the local part of the Message-ID, defaults to a random UUID.
	NewMessageID func() string

	// Now supplies the Date header when Message.Date is zero.
	Now func() time.Time
}

// Build serializes m with a zero value Encoder.
func Build(m *Message) ([]byte, error) {
	return (&Encoder{}).Build(m)
}

// Build serializes m as an RFC 5322 message with CRLF line endings: a multipart/mixed body
// holding the text lead-in followed by the base64 encoded attachment.  The result is not
// dot-stuffed.
func (e *Encoder) Build(m *Message) ([]byte, error) {
	from := strings.TrimSpace(SanitizeHeader(m.From))
	to := strings.TrimSpace(SanitizeHeader(m.To))
	if from == "" || to == "" {
		return nil, ErrMissingAddress
	}
	date := m.Date
	if date.IsZero() {
		date = time.Now()
		if e.Now != nil {
			date = e.Now()
		}
	}
	boundary := "=_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if e.NewBoundary != nil {
		boundary = e.NewBoundary()
	}
	msgID := uuid.NewString()
	if e.NewMessageID != nil {
		msgID = e.NewMessageID()
	}

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "From: %s\r\n", EncodeAddress(from))
	fmt.Fprintf(buf, "To: %s\r\n", EncodeAddress(to))
	fmt.Fprintf(buf, "Subject: %s\r\n", EncodeSubject(m.Subject))
	fmt.Fprintf(buf, "Date: %s\r\n", date.Format(time.RFC1123Z))
	fmt.Fprintf(buf, "Message-ID: <%s@%s>\r\n", msgID, domainOf(from))
	buf.WriteString("MIME-Version: 1.0\r\n")

	w := multipart.NewWriter(buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("message: boundary %q: %w", boundary, err)
	}
	fmt.Fprintf(buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary())

	if err := writeText(w, m.Text); err != nil {
		return nil, err
	}
	if err := writeAttachment(w, &m.Attachment); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeText adds the lead-in part, 7bit when ASCII and quoted-printable otherwise.
func writeText(w *multipart.Writer, text string) error {
	text = normalizeNewlines(text)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	if isASCII(text) {
		h.Set("Content-Transfer-Encoding", "7bit")
		part, err := w.CreatePart(h)
		if err != nil {
			return fmt.Errorf("message: text part: %w", err)
		}
		_, err = part.Write([]byte(text))
		return err
	}
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("message: text part: %w", err)
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(text)); err != nil {
		return err
	}
	return qp.Close()
}

// writeAttachment adds the attachment part with both forms of the filename.
func writeAttachment(w *multipart.Writer, a *Attachment) error {
	mediaType := strings.TrimSpace(SanitizeHeader(a.MediaType))
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	fallback := FallbackFilename(SanitizeHeader(a.Filename))
	extended := ExtendedFilename(a.Filename)
	if strings.TrimSpace(a.Filename) == "" {
		extended = ExtendedFilename(fallback)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", fmt.Sprintf("%s;\r\n name=%q", mediaType, fallback))
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition",
		fmt.Sprintf("attachment;\r\n filename=%q;\r\n filename*=%s", fallback, extended))
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("message: attachment part: %w", err)
	}
	_, err = part.Write(wrapBase64(a.Data))
	return err
}

// wrapBase64 encodes data with CRLF line breaks every 76 characters.
func wrapBase64(data []byte) []byte {
	enc := base64.StdEncoding.EncodeToString(data)
	out := make([]byte, 0, len(enc)+2*(len(enc)/base64LineLen+1))
	for len(enc) > base64LineLen {
		out = append(out, enc[:base64LineLen]...)
		out = append(out, '\r', '\n')
		enc = enc[base64LineLen:]
	}
	return append(out, enc...)
}

// normalizeNewlines converts bare CR and LF line breaks to CRLF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "<> ")
	}
	return "localhost"
}
