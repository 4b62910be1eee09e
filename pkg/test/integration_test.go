package test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/inbucket/bookmailer/pkg/book"
	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/delivery"
	"github.com/inbucket/bookmailer/pkg/epub"
	"github.com/inbucket/bookmailer/pkg/extension"
	"github.com/inbucket/bookmailer/pkg/extension/luahost"
	"github.com/inbucket/bookmailer/pkg/smtpclient"
	"github.com/jhillyerd/enmime/v2"
	"github.com/jhillyerd/goldiff"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

const manifest = `
title: Große Reise
author: Anna Berg
language: de
chapters:
  - title: Aufbruch
    file: text/one.html
  - title: Ankunft
    body: <p>Endlich <img src="images/map.png"></p>
cover:
  file: img/cover.png
resources:
  - file: img/map.png
    path: images/map.png
mail:
  text: Viel Spaß beim Lesen.
`

var bookFiles = fstest.MapFS{
	"text/one.html": {Data: []byte("<p>Es war einmal.</p>")},
	"img/cover.png": {Data: []byte("cover png")},
	"img/map.png":   {Data: []byte("map png")},
}

var fixedBuilder = &epub.Builder{
	NewIdentifier: func() string { return "urn:uuid:00000000-0000-4000-8000-000000000000" },
	Now:           func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
}

type IntegrationSuite struct {
	suite.Suite
	stub     *SMTPStub
	settings delivery.Settings
	logger   zerolog.Logger
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.stub = NewSMTPStub(s.T())
	host, port := s.stub.Start()
	s.settings = delivery.Settings{
		Host:         host,
		Port:         port,
		Security:     smtpclient.SecurityNone,
		From:         "Book Mailer <me@example.com>",
		To:           "reader@kindle.com",
		Timeout:      2 * time.Second,
		AllowDomains: []string{"kindle.com"},
	}
	s.logger = zerolog.New(zerolog.NewTestWriter(s.T()))
}

func (s *IntegrationSuite) TestSendManifest() {
	payload := s.loadBook()
	mailer := delivery.NewMailer(s.settings, nil, s.logger)
	s.Require().NoError(mailer.Deliver(context.Background(), payload))

	env := s.receivedMessage()
	goldiff.File(s.T(), s.formatDelivery(env), "testdata", "sendbook.golden")
}

func (s *IntegrationSuite) TestSendWithLuaExtension() {
	script := `
		async = true

		function bookmailer.before.message_sent(msg)
			local res = outbound_message.new(msg)
			res.subject = "[kindle] " .. msg.subject
			return res
		end

		function bookmailer.after.message_sent(res)
			assert_eq(res.message.subject, "[kindle] Große Reise")
			assert_eq(res.message.filename, "Große Reise.epub")
			assert_async(res.success, "res.success")
			notify:send(test_ok)
		end
	`
	extHost := extension.NewHost()
	luaHost, err := luahost.NewFromReader(s.logger, extHost,
		strings.NewReader(LuaInit+script), "integration.lua")
	s.Require().NoError(err)
	defer luaHost.Close()
	notify := luaHost.CreateChannel("notify")

	mailer := delivery.NewMailer(s.settings, extHost, s.logger)
	s.Require().NoError(mailer.Deliver(context.Background(), s.loadBook()))
	AssertNotified(s.T(), notify)
	s.Require().NoError(extHost.Events.AfterMessageSent.Wait(context.Background()))

	env := s.receivedMessage()
	s.Equal("[kindle] Große Reise", env.GetHeader("Subject"))
}

func (s *IntegrationSuite) TestVerifyThenSend() {
	mailer := delivery.NewMailer(s.settings, nil, s.logger)
	s.Require().NoError(mailer.Verify(context.Background()))
	s.Require().NoError(mailer.Deliver(context.Background(), s.loadBook()))

	s.Equal([]string{
		"EHLO", "MAIL", "RCPT", "RSET", "QUIT",
		"EHLO", "MAIL", "RCPT", "DATA", ".", "QUIT",
	}, s.stub.Verbs())
	s.Len(s.stub.Data(), 1)
}

// loadBook resolves the manifest and packages it the way the send command does.
func (s *IntegrationSuite) loadBook() delivery.Book {
	m, err := book.Parse(strings.NewReader(manifest))
	s.Require().NoError(err)
	bk, err := m.Resolve(bookFiles, config.Book{Author: "Unknown", Language: "en",
		ShowTitle: true, Sanitize: true})
	s.Require().NoError(err)
	data, err := bk.Build(fixedBuilder)
	s.Require().NoError(err)
	return delivery.Book{
		Title:    bk.Mail.Subject,
		Text:     bk.Mail.Text,
		Filename: bk.Mail.Filename,
		Data:     data,
	}
}

// receivedMessage parses the single message the stub received.
func (s *IntegrationSuite) receivedMessage() *enmime.Envelope {
	data := s.stub.Data()
	s.Require().Len(data, 1)
	raw := bytes.ReplaceAll(data[0], []byte("\r\n.."), []byte("\r\n."))
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	s.Require().NoError(err)
	return env
}

func (s *IntegrationSuite) formatDelivery(env *enmime.Envelope) []byte {
	s.Require().Len(env.Attachments, 1)
	a := env.Attachments[0]
	zr, err := zip.NewReader(bytes.NewReader(a.Content), int64(len(a.Content)))
	s.Require().NoError(err)

	b := &bytes.Buffer{}
	fmt.Fprintf(b, "From: %v\n", env.GetHeader("From"))
	fmt.Fprintf(b, "To: %v\n", env.GetHeader("To"))
	fmt.Fprintf(b, "Subject: %v\n", env.GetHeader("Subject"))
	fmt.Fprintf(b, "Text: %v\n", strings.TrimSpace(env.Text))
	fmt.Fprintf(b, "Attachment: %v (%v)\n", a.FileName, a.ContentType)
	fmt.Fprintf(b, "\nENTRIES:\n")
	for _, f := range zr.File {
		fmt.Fprintf(b, "%v method=%v\n", f.Name, f.Method)
	}
	return b.Bytes()
}
