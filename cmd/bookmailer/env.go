package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/inbucket/bookmailer/pkg/config"
)

type envCmd struct{}

func (*envCmd) Name() string {
	return "env"
}

func (*envCmd) Synopsis() string {
	return "list the environment variables"
}

func (*envCmd) Usage() string {
	return `env:
	print the configuration variables and their defaults
`
}

func (*envCmd) SetFlags(*flag.FlagSet) {}

func (*envCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if err := config.WriteUsage(os.Stdout); err != nil {
		return fatal("Couldn't list variables", err)
	}
	return subcommands.ExitSuccess
}
