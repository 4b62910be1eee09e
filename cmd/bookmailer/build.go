package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/inbucket/bookmailer/pkg/book"
	"github.com/rs/zerolog/log"
)

type buildCmd struct {
	manifest string
	out      string
}

func (*buildCmd) Name() string {
	return "build"
}

func (*buildCmd) Synopsis() string {
	return "package a book manifest as an EPUB file"
}

func (*buildCmd) Usage() string {
	return `build -manifest <book.yaml> [-out <book.epub>]:
	package the book described by the manifest, the output name defaults to the title
`
}

func (b *buildCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.manifest, "manifest", "book.yaml", "book manifest path")
	f.StringVar(&b.out, "out", "", "EPUB output path")
}

func (b *buildCmd) Execute(
	_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := rootConfig(args)
	bk, err := book.Load(b.manifest, conf.Book)
	if err != nil {
		return fatal("Couldn't load manifest", err)
	}
	data, err := bk.Build(nil)
	if err != nil {
		return fatal("Couldn't package book", err)
	}

	out := b.out
	if out == "" {
		out = outputName(bk)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fatal("Couldn't write book", err)
	}
	log.Info().Str("module", "epub").Str("path", out).Int("size", len(data)).
		Msg("Book packaged")
	fmt.Println(out)

	return subcommands.ExitSuccess
}

// outputName prefers the mail filename, then the title.
func outputName(bk *book.Book) string {
	if bk.Mail.Filename != "" {
		return bk.Mail.Filename
	}
	title := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`/\:*?"<>|`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(bk.Document.Title))
	if title == "" {
		return "book.epub"
	}
	return title + ".epub"
}
