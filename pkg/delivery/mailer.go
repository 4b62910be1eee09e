// Package delivery sends a packaged book through a complete SMTP session, or verifies that the
// configured server accepts the sender and recipient.
package delivery

import (
	"context"
	"time"

	"github.com/inbucket/bookmailer/pkg/extension"
	"github.com/inbucket/bookmailer/pkg/extension/event"
	"github.com/inbucket/bookmailer/pkg/message"
	"github.com/inbucket/bookmailer/pkg/smtpclient"
	"github.com/rs/zerolog"
)

const bookExtension = ".epub"

// Book is the payload of one delivery.
type Book struct {
	Title     string // Message subject.
	Text      string // Plain text lead-in.
	Filename  string // Attachment name, derived from Title when empty.
	MediaType string // Defaults to application/epub+zip.
	Data      []byte
}

// Mailer delivers books using fixed Settings.
type Mailer struct {
	// Encoder serializes the message, the zero value is used when nil.
	Encoder *message.Encoder

	settings Settings
	events   *extension.Events
	base     zerolog.Logger // Handed to each session client.
	logger   zerolog.Logger
}

// NewMailer creates a Mailer.  extHost may be nil when no extensions are loaded.
func NewMailer(settings Settings, extHost *extension.Host, logger zerolog.Logger) *Mailer {
	m := &Mailer{
		settings: settings,
		base:     logger,
		logger:   logger.With().Str("module", "delivery").Logger(),
	}
	if extHost != nil {
		m.events = extHost.Events
	}
	return m
}

// Deliver encodes b as an email and sends it in a single session.  Invalid settings are
// reported as *ConfigError before connecting, session failures carry the smtpclient error.
func (m *Mailer) Deliver(ctx context.Context, b Book) error {
	if err := m.settings.Validate(); err != nil {
		m.logger.Warn().Err(err).Msg("Invalid delivery settings")
		return err
	}

	out := event.OutboundMessage{
		From:     m.settings.From,
		To:       m.settings.To,
		Subject:  b.Title,
		Text:     b.Text,
		Filename: attachmentName(b),
		Size:     len(b.Data),
	}
	if m.events != nil {
		if replaced := m.events.BeforeMessageSent.Emit(&out); replaced != nil {
			out = *replaced
			out.Size = len(b.Data)
			if err := checkRecipient(m.settings.addressing(), out.To); err != nil {
				m.logger.Warn().Err(err).Msg("Extension supplied an invalid recipient")
				return err
			}
		}
	}
	from, to, err := m.envelope(out)
	if err != nil {
		return err
	}

	encoder := m.Encoder
	if encoder == nil {
		encoder = &message.Encoder{}
	}
	raw, err := encoder.Build(&message.Message{
		From:    out.From,
		To:      out.To,
		Subject: out.Subject,
		Text:    out.Text,
		Attachment: message.Attachment{
			Filename:  out.Filename,
			MediaType: b.MediaType,
			Data:      b.Data,
		},
	})
	if err != nil {
		return err
	}

	start := time.Now()
	err = m.session(ctx, func(c *smtpclient.Client) error {
		return c.SendMail(ctx, from, to, raw)
	})
	m.finish(out, false, start, err)
	if m.events != nil {
		m.events.AfterMessageSent.Emit(m.result(out, false, start, err))
	}
	return err
}

// Verify runs a session that checks the server accepts the configured sender and recipient,
// without sending a message.
func (m *Mailer) Verify(ctx context.Context) error {
	if err := m.settings.Validate(); err != nil {
		m.logger.Warn().Err(err).Msg("Invalid delivery settings")
		return err
	}
	out := event.OutboundMessage{From: m.settings.From, To: m.settings.To}
	from, to, err := m.envelope(out)
	if err != nil {
		return err
	}

	start := time.Now()
	err = m.session(ctx, func(c *smtpclient.Client) error {
		return c.VerifyRecipient(ctx, from, to)
	})
	m.finish(out, true, start, err)
	if m.events != nil {
		m.events.AfterRecipientVerified.Emit(m.result(out, true, start, err))
	}
	return err
}

// session connects, greets, upgrades and authenticates as configured, then runs fn.  QUIT is
// always attempted, even when ctx is already done.
func (m *Mailer) session(ctx context.Context, fn func(*smtpclient.Client) error) error {
	c := smtpclient.New(m.settings.clientOptions(), m.base)
	defer c.Quit(context.WithoutCancel(ctx))

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.Ehlo(ctx); err != nil {
		return err
	}
	if m.settings.Security == smtpclient.SecurityStartTLS {
		if err := c.StartTLS(ctx); err != nil {
			return err
		}
	}
	if m.settings.Username != "" {
		if err := c.AuthLogin(ctx, m.settings.Username, m.settings.Password); err != nil {
			return err
		}
	}
	return fn(c)
}

// envelope returns the bare addresses for MAIL FROM and RCPT TO.
func (m *Mailer) envelope(out event.OutboundMessage) (from, to string, err error) {
	addressing := m.settings.addressing()
	origin, err := addressing.NewOrigin(out.From)
	if err != nil {
		return "", "", &ConfigError{Field: "From", Reason: err.Error()}
	}
	recipient, err := addressing.NewRecipient(out.To)
	if err != nil {
		return "", "", &ConfigError{Field: "To", Reason: err.Error()}
	}
	return origin.Address.Address, recipient.Address.Address, nil
}

func (m *Mailer) result(out event.OutboundMessage, verified bool, start time.Time,
	err error) *event.DeliveryResult {
	r := &event.DeliveryResult{
		Message:  out,
		Server:   m.settings.clientOptions().Addr(),
		Verified: verified,
		Duration: time.Since(start),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func (m *Mailer) finish(out event.OutboundMessage, verified bool, start time.Time, err error) {
	logger := m.logger.With().Str("to", out.To).Bool("verify", verified).
		Dur("elapsed", time.Since(start)).Logger()
	switch {
	case err == nil:
		logger.Info().Msg("Session complete")
	case IsProtocolError(err):
		logger.Warn().Err(err).Msg("Server refused session")
	default:
		logger.Error().Err(err).Msg("Session failed")
	}
}

func attachmentName(b Book) string {
	switch {
	case b.Filename != "":
		return b.Filename
	case b.Title != "":
		return b.Title + bookExtension
	}
	return message.DefaultFilename
}
