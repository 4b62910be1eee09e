// Package config resolves bookmailer settings from the environment.
package config

import (
	"errors"
	"io"
	"io/fs"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "bookmailer"
	tableFormat = `bookmailer is configured via the environment, or a .env file. The following
environment variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	LogLevel string `required:"true" default:"INFO" desc:"DEBUG, INFO, WARN, or ERROR"`
	SMTP     SMTP
	Book     Book
	Lua      Lua
}

// SMTP contains the outbound mail server and envelope configuration.
type SMTP struct {
	Host           string        `desc:"Mail server host name"`
	Port           int           `required:"true" default:"587" desc:"Mail server port"`
	Security       string        `required:"true" default:"starttls" desc:"none, starttls, or tls"`
	Username       string        `desc:"AUTH LOGIN user name, empty disables AUTH"`
	Password       string        `desc:"AUTH LOGIN password"`
	From           string        `desc:"Envelope and header sender address"`
	To             string        `desc:"Recipient address"`
	LocalName      string        `required:"true" default:"localhost" desc:"EHLO identity"`
	Timeout        time.Duration `required:"true" default:"30s" desc:"Wait bound for each server response"`
	TLSInsecure    bool          `default:"false" desc:"Skip TLS certificate verification"`
	RecipientAllow []string      `desc:"Recipient domains mail may be sent to, empty allows all"`
}

// Book contains defaults applied to manifests that omit them.
type Book struct {
	Author    string `required:"true" default:"Unknown" desc:"Author when the manifest has none"`
	Language  string `required:"true" default:"en" desc:"Language tag when the manifest has none"`
	ShowTitle bool   `required:"true" default:"true" desc:"Render the title as a heading"`
	Sanitize  bool   `required:"true" default:"true" desc:"Sanitize chapter markup"`
}

// Lua contains the Lua extension host configuration.
type Lua struct {
	Path string `default:"bookmailer.lua" desc:"Lua script path, empty disables Lua"`
}

// LoadEnvFile adds the variables in the named .env file to the environment, without
// overriding variables that are already set.  A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	err := envconfig.Process(prefix, c)
	return c, err
}

// WriteUsage writes the envconfig usage table to w.
func WriteUsage(w io.Writer) error {
	tabs := tabwriter.NewWriter(w, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		return err
	}
	return tabs.Flush()
}
