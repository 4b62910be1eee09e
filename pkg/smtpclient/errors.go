package smtpclient

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCommandInFlight is returned when a command is issued while another is awaiting its
	// response.
	ErrCommandInFlight = errors.New("smtp: another command is in flight")

	// ErrNotConnected is returned by commands issued before Connect.
	ErrNotConnected = errors.New("smtp: not connected")

	// ErrAlreadyConnected is returned when Connect is called on an open session.
	ErrAlreadyConnected = errors.New("smtp: already connected")

	// ErrOutOfSequence is returned when a command is not valid in the current session state.
	ErrOutOfSequence = errors.New("smtp: command out of sequence")

	// ErrStartTLSUnavailable is returned by StartTLS when the security mode does not call for
	// an upgrade.
	ErrStartTLSUnavailable = errors.New("smtp: STARTTLS not enabled for this session")

	// ErrUnexpectedData is returned when the server sends data after accepting STARTTLS, which
	// would otherwise be read as if it had been encrypted.
	ErrUnexpectedData = errors.New("smtp: unexpected data before TLS handshake")
)

// ProtocolError reports a response code outside the set a command accepts.
type ProtocolError struct {
	Command string
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("smtp: %s: unexpected response %d %s", e.Command, e.Code, e.Message)
}

// TimeoutError reports a command whose response did not arrive in time, or whose context
// was done first.
type TimeoutError struct {
	Command string
	After   time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("smtp: %s: no response after %v: %v", e.Command, e.After.Round(time.Millisecond),
		e.Err)
}

// Timeout is always true, satisfying net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError wraps a network or TLS failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("smtp: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports a failed AUTH LOGIN exchange.  Err is the underlying protocol, timeout or
// transport error.
type AuthError struct {
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("smtp: authentication failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }
