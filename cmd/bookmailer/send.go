package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/bookmailer/pkg/book"
	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/delivery"
	"github.com/inbucket/bookmailer/pkg/extension"
	"github.com/inbucket/bookmailer/pkg/extension/luahost"
	"github.com/rs/zerolog/log"
)

// listenerTimeout bounds the wait for asynchronous extension listeners before exit.
const listenerTimeout = 30 * time.Second

type sendCmd struct {
	manifest string
	epub     string
	to       string
	subject  string
	text     string
}

func (*sendCmd) Name() string {
	return "send"
}

func (*sendCmd) Synopsis() string {
	return "package a book and mail it"
}

func (*sendCmd) Usage() string {
	return `send [-manifest <book.yaml> | -epub <book.epub>] [-to addr] [-subject s] [-text t]:
	deliver the book to the configured recipient over SMTP
`
}

func (s *sendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.manifest, "manifest", "", "book manifest to package and send")
	f.StringVar(&s.epub, "epub", "", "already packaged EPUB file to send")
	f.StringVar(&s.to, "to", "", "recipient, overrides BOOKMAILER_SMTP_TO")
	f.StringVar(&s.subject, "subject", "", "message subject, defaults to the book title")
	f.StringVar(&s.text, "text", "", "plain text lead-in")
}

func (s *sendCmd) Execute(
	ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if (s.manifest == "") == (s.epub == "") {
		return usage("exactly one of -manifest or -epub required")
	}
	conf := rootConfig(args)

	payload, err := s.load(conf.Book)
	if err != nil {
		return fatal("Couldn't load book", err)
	}
	if s.subject != "" {
		payload.Title = s.subject
	}
	if s.text != "" {
		payload.Text = s.text
	}

	mailer, extHost, done, err := newMailer(conf, s.to)
	if err != nil {
		return fatal("Couldn't configure delivery", err)
	}
	defer done()

	err = mailer.Deliver(ctx, *payload)
	waitListeners(&extHost.Events.AfterMessageSent)
	if err != nil {
		return fatal("Delivery failed", err)
	}

	return subcommands.ExitSuccess
}

// load packages the manifest, or reads the EPUB file.
func (s *sendCmd) load(defaults config.Book) (*delivery.Book, error) {
	if s.epub != "" {
		data, err := os.ReadFile(s.epub)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(s.epub)
		return &delivery.Book{
			Title:    strings.TrimSuffix(name, filepath.Ext(name)),
			Filename: name,
			Data:     data,
		}, nil
	}

	bk, err := book.Load(s.manifest, defaults)
	if err != nil {
		return nil, err
	}
	data, err := bk.Build(nil)
	if err != nil {
		return nil, err
	}
	return &delivery.Book{
		Title:    bk.Mail.Subject,
		Text:     bk.Mail.Text,
		Filename: bk.Mail.Filename,
		Data:     data,
	}, nil
}

// newMailer resolves the delivery settings and loads the Lua extensions.  to overrides the
// configured recipient when not empty.
func newMailer(conf *config.Root, to string) (*delivery.Mailer, *extension.Host, func(), error) {
	settings, err := delivery.SettingsFromConfig(conf.SMTP)
	if err != nil {
		return nil, nil, nil, err
	}
	if to != "" {
		settings.To = to
	}

	extHost := extension.NewHost()
	luaHost, err := luahost.New(conf.Lua, log.Logger, extHost)
	if err != nil {
		return nil, nil, nil, err
	}
	done := func() {}
	if luaHost != nil {
		done = luaHost.Close
	}
	return delivery.NewMailer(settings, extHost, log.Logger), extHost, done, nil
}

// waitListeners lets asynchronous listeners finish before the process exits.
func waitListeners[E any](broker *extension.AsyncEventBroker[E]) {
	ctx, cancel := context.WithTimeout(context.Background(), listenerTimeout)
	defer cancel()
	if err := broker.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("Extension listeners did not finish")
	}
}
