// main packages books as EPUB files and mails them to e-reader addresses.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/subcommands"
	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// version contains the build version number, populated during linking.
	version = "undefined"

	// date contains the build date, populated during linking.
	date = "undefined"
)

var (
	envfile = flag.String("env", ".env", "Load environment variables from the specified file.")
	logfile = flag.String("logfile", "stderr", "Write out log into the specified file.")
	logjson = flag.Bool("logjson", false, "Logs are written in JSON format.")
)

func main() {
	subcommands.ImportantFlag("env")

	// Setup standard helpers
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&envCmd{}, "")

	// Setup my commands
	subcommands.Register(&buildCmd{}, "book")
	subcommands.Register(&sendCmd{}, "book")
	subcommands.Register(&verifyCmd{}, "book")

	flag.Parse()

	// Process configuration.
	config.Version = version
	config.BuildDate = date
	if err := config.LoadEnvFile(*envfile); err != nil {
		fmt.Fprintf(os.Stderr, "Environment file error: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	conf, err := config.Process()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}

	// Logger setup.
	closeLog, err := openLog(conf.LogLevel, *logfile, *logjson)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Log error: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	log.Debug().Str("phase", "startup").Str("version", config.Version).
		Str("buildDate", config.BuildDate).Msg("Bookmailer starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	status := subcommands.Execute(ctx, conf)
	stop()
	closeLog()
	os.Exit(int(status))
}

// openLog configures zerolog output, returns func to close logfile.
func openLog(level string, logfile string, json bool) (close func(), err error) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		return nil, fmt.Errorf("log level %q not one of: debug, info, warn, error", level)
	}
	close = func() {}
	var w io.Writer
	color := runtime.GOOS != "windows"
	switch logfile {
	case "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		logf, err := os.OpenFile(logfile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
		if err != nil {
			return nil, err
		}
		bw := bufio.NewWriter(logf)
		w = bw
		color = false
		close = func() {
			_ = bw.Flush()
			_ = logf.Close()
		}
	}
	w = zerolog.SyncWriter(w)
	if json {
		log.Logger = log.Output(w)
		return close, nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:     w,
		NoColor: !color,
	})
	return close, nil
}

// rootConfig extracts the configuration passed to subcommands.Execute.
func rootConfig(args []any) *config.Root {
	if len(args) > 0 {
		if c, ok := args[0].(*config.Root); ok {
			return c
		}
	}
	return &config.Root{}
}

func fatal(msg string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
