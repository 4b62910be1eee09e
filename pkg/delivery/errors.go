package delivery

import (
	"errors"
	"fmt"

	"github.com/inbucket/bookmailer/pkg/smtpclient"
)

// ConfigError reports a missing or malformed delivery setting.  It is returned before any
// network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("delivery: invalid setting %s: %s", e.Field, e.Reason)
}

// IsConfigError reports whether err was caused by invalid settings.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsProtocolError reports whether the server answered with an unexpected status code, or did
// not answer in time.
func IsProtocolError(err error) bool {
	var pe *smtpclient.ProtocolError
	var te *smtpclient.TimeoutError
	return errors.As(err, &pe) || errors.As(err, &te)
}

// IsTransportError reports whether the connection or TLS handshake failed.
func IsTransportError(err error) bool {
	var te *smtpclient.TransportError
	return errors.As(err, &te)
}
