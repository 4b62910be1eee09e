package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

type verifyCmd struct {
	to string
}

func (*verifyCmd) Name() string {
	return "verify"
}

func (*verifyCmd) Synopsis() string {
	return "check the server accepts the sender and recipient"
}

func (*verifyCmd) Usage() string {
	return `verify [-to addr]:
	connect, authenticate and run MAIL FROM and RCPT TO without sending a message
`
}

func (v *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.to, "to", "", "recipient, overrides BOOKMAILER_SMTP_TO")
}

func (v *verifyCmd) Execute(
	ctx context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	mailer, extHost, done, err := newMailer(rootConfig(args), v.to)
	if err != nil {
		return fatal("Couldn't configure delivery", err)
	}
	defer done()

	err = mailer.Verify(ctx)
	waitListeners(&extHost.Events.AfterRecipientVerified)
	if err != nil {
		return fatal("Verification failed", err)
	}
	fmt.Println("Recipient accepted")

	return subcommands.ExitSuccess
}
