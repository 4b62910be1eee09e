package delivery

import (
	"crypto/tls"
	"errors"
	"time"

	"github.com/inbucket/bookmailer/pkg/config"
	"github.com/inbucket/bookmailer/pkg/policy"
	"github.com/inbucket/bookmailer/pkg/smtpclient"
)

const maxPort = 65535

// Settings are the fully resolved parameters of one delivery.
type Settings struct {
	Host      string
	Port      int
	Security  smtpclient.Security
	Username  string // Enables AUTH LOGIN when set.
	Password  string
	From      string
	To        string
	LocalName string
	Timeout   time.Duration
	TLSConfig *tls.Config

	// AllowDomains restricts the recipient domain, empty allows any.
	AllowDomains []string
}

// SettingsFromConfig converts the resolved SMTP configuration into Settings.  It does not
// validate them.
func SettingsFromConfig(c config.SMTP) (Settings, error) {
	security, err := smtpclient.ParseSecurity(c.Security)
	if err != nil {
		return Settings{}, &ConfigError{Field: "Security", Reason: err.Error()}
	}
	s := Settings{
		Host:         c.Host,
		Port:         c.Port,
		Security:     security,
		Username:     c.Username,
		Password:     c.Password,
		From:         c.From,
		To:           c.To,
		LocalName:    c.LocalName,
		Timeout:      c.Timeout,
		AllowDomains: c.RecipientAllow,
	}
	if c.TLSInsecure {
		s.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return s, nil
}

// Validate checks every setting and returns all problems found, each a *ConfigError.
func (s *Settings) Validate() error {
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &ConfigError{Field: field, Reason: reason})
	}

	if s.Host == "" {
		fail("Host", "is required")
	}
	if s.Port < 1 || s.Port > maxPort {
		fail("Port", "must be between 1 and 65535")
	}
	switch s.Security {
	case smtpclient.SecurityNone, smtpclient.SecurityStartTLS, smtpclient.SecurityTLS:
	default:
		fail("Security", "unknown mode "+s.Security.String())
	}
	if (s.Username == "") != (s.Password == "") {
		fail("Username", "username and password must be set together")
	}
	if s.Timeout < 0 {
		fail("Timeout", "must not be negative")
	}

	addressing := s.addressing()
	if s.From == "" {
		fail("From", "is required")
	} else if _, err := addressing.NewOrigin(s.From); err != nil {
		fail("From", err.Error())
	}
	if s.To == "" {
		fail("To", "is required")
	} else if err := checkRecipient(addressing, s.To); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Settings) addressing() *policy.Addressing {
	return &policy.Addressing{AllowDomains: s.AllowDomains}
}

func (s *Settings) clientOptions() smtpclient.Options {
	return smtpclient.Options{
		Host:      s.Host,
		Port:      s.Port,
		Security:  s.Security,
		LocalName: s.LocalName,
		Timeout:   s.Timeout,
		TLSConfig: s.TLSConfig,
	}
}

// checkRecipient returns a *ConfigError when to is malformed or not an allowed domain.
func checkRecipient(addressing *policy.Addressing, to string) error {
	r, err := addressing.NewRecipient(to)
	if err != nil {
		return &ConfigError{Field: "To", Reason: err.Error()}
	}
	if !r.ShouldSend() {
		return &ConfigError{Field: "To", Reason: "domain " + r.Domain + " is not allowed"}
	}
	return nil
}
