// Package smtpclient implements the sending side of an SMTP session: greeting, EHLO, optional
// STARTTLS, AUTH LOGIN, a single mail transaction or a recipient check, and QUIT.
package smtpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inbucket/bookmailer/pkg/message"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultLocalName = "localhost"
	readBufferSize   = 4096
)

// State tracks the progress of the session.
type State int

const (
	// Disconnected State: no transport.
	Disconnected State = iota
	// Connected State: transport open, greeting received.
	Connected
	// Greeted State: EHLO accepted.
	Greeted
	// Encrypted State: STARTTLS upgrade done and EHLO repeated.
	Encrypted
	// Authenticated State: AUTH LOGIN accepted.
	Authenticated
	// InTransaction State: MAIL FROM sent, transaction not yet completed or reset.
	InTransaction
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Greeted:
		return "Greeted"
	case Encrypted:
		return "Encrypted"
	case Authenticated:
		return "Authenticated"
	case InTransaction:
		return "InTransaction"
	}
	return "Unknown"
}

// Security selects how the transport is encrypted.
type Security int

const (
	// SecurityNone never encrypts.
	SecurityNone Security = iota
	// SecurityStartTLS connects in plaintext and upgrades after EHLO.
	SecurityStartTLS
	// SecurityTLS performs the TLS handshake before the greeting.
	SecurityTLS
)

func (s Security) String() string {
	switch s {
	case SecurityNone:
		return "none"
	case SecurityStartTLS:
		return "starttls"
	case SecurityTLS:
		return "tls"
	}
	return "unknown"
}

// ParseSecurity converts a configuration value to a Security mode.
func ParseSecurity(s string) (Security, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return SecurityNone, nil
	case "starttls":
		return SecurityStartTLS, nil
	case "tls":
		return SecurityTLS, nil
	}
	return SecurityNone, fmt.Errorf("unknown security mode %q", s)
}

// Options configure a Client.
type Options struct {
	Host      string
	Port      int
	Security  Security
	LocalName string        // EHLO identity, defaults to localhost.
	Timeout   time.Duration // Bound on each awaited response, defaults to 30s.
	TLSConfig *tls.Config   // Defaults to verifying Host.
}

// Addr returns host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// waiter is the single pending response registration of a session.
type waiter struct {
	command  string
	accept   []int
	deadline time.Time
}

func (w *waiter) resolve(resp Response) (*Response, error) {
	if slices.Contains(w.accept, resp.Code) {
		return &resp, nil
	}
	return nil, &ProtocolError{Command: w.command, Code: resp.Code, Message: resp.Message()}
}

// Client drives one SMTP session over one transport.  Only one command may be in flight at a
// time, a second concurrent call fails with ErrCommandInFlight.
type Client struct {
	opts   Options
	logger zerolog.Logger
	busy   atomic.Bool
	mu     sync.Mutex // Guards conn replacement against a concurrent Quit.
	conn   net.Conn
	reader responseReader
	state  State
	ready  State // State to return to once a transaction completes.

	pending *waiter
	exts    []string
	readBuf []byte
}

// New creates a disconnected client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.LocalName == "" {
		opts.LocalName = defaultLocalName
	}
	logger = logger.With().Str("module", "smtp").Str("server", opts.Addr()).Logger().Hook(logHook{})
	return &Client{
		opts:   opts,
		logger: logger,
		reader: responseReader{logger: logger},
	}
}

// State returns the current session state.
func (c *Client) State() State {
	return c.state
}

// Extensions returns the capability lines of the last EHLO response.
func (c *Client) Extensions() []string {
	return c.exts
}

// HasExtension reports whether the last EHLO response advertised the named capability.
func (c *Client) HasExtension(name string) bool {
	for _, e := range c.exts {
		keyword, _, _ := strings.Cut(e, " ")
		if strings.EqualFold(keyword, name) {
			return true
		}
	}
	return false
}

// Connect opens the transport, performing the TLS handshake first in SecurityTLS mode, and
// waits for a 220 greeting.  On failure the client remains Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if !c.acquire() {
		return ErrCommandInFlight
	}
	defer c.release()
	if c.state != Disconnected {
		return ErrAlreadyConnected
	}

	dialer := &net.Dialer{Timeout: c.opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.opts.Addr())
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to connect")
		return &TransportError{Op: "dial", Err: err}
	}
	expConnectsTotal.Add(1)
	if c.opts.Security == SecurityTLS {
		tconn := tls.Client(conn, c.tlsConfig())
		if err := c.handshake(ctx, tconn); err != nil {
			_ = conn.Close()
			return err
		}
		conn = tconn
	}
	c.setConn(conn)
	c.logger.Debug().Str("security", c.opts.Security.String()).Msg("Connected")

	if _, err := c.await(ctx, "greeting", 220); err != nil {
		c.teardown()
		return err
	}
	c.state = Connected
	return nil
}

// Ehlo sends EHLO and records the advertised capabilities.
func (c *Client) Ehlo(ctx context.Context) error {
	if !c.acquire() {
		return ErrCommandInFlight
	}
	defer c.release()
	if c.state == Disconnected {
		return ErrNotConnected
	}
	return c.ehlo(ctx)
}

func (c *Client) ehlo(ctx context.Context) error {
	resp, err := c.command(ctx, "EHLO", "EHLO "+c.opts.LocalName, 250)
	if err != nil {
		return err
	}
	c.exts = nil
	if len(resp.Lines) > 1 {
		c.exts = resp.Lines[1:]
	}
	if c.state < Greeted {
		c.state = Greeted
	}
	return nil
}

// StartTLS upgrades the plaintext session to TLS and repeats EHLO, servers discard
// capabilities negotiated before the upgrade.
func (c *Client) StartTLS(ctx context.Context) error {
	if !c.acquire() {
		return ErrCommandInFlight
	}
	defer c.release()
	switch {
	case c.state == Disconnected:
		return ErrNotConnected
	case c.opts.Security != SecurityStartTLS:
		return ErrStartTLSUnavailable
	case c.state != Greeted:
		return fmt.Errorf("%w: STARTTLS in state %v", ErrOutOfSequence, c.state)
	}

	if _, err := c.command(ctx, "STARTTLS", "STARTTLS", 220); err != nil {
		return err
	}
	if c.reader.buffered() {
		return ErrUnexpectedData
	}
	tconn := tls.Client(c.conn, c.tlsConfig())
	if err := c.handshake(ctx, tconn); err != nil {
		return err
	}
	c.setConn(tconn)
	c.logger.Debug().Msg("Upgraded to TLS")

	if err := c.ehlo(ctx); err != nil {
		return err
	}
	c.state = Encrypted
	return nil
}

// AuthLogin authenticates with the LOGIN mechanism.  Failures are reported as *AuthError.
func (c *Client) AuthLogin(ctx context.Context, username, password string) error {
	if !c.acquire() {
		return ErrCommandInFlight
	}
	defer c.release()
	if err := c.requireGreeted("AUTH"); err != nil {
		return err
	}

	if _, err := c.command(ctx, "AUTH LOGIN", "AUTH LOGIN", 334); err != nil {
		return &AuthError{Step: "AUTH LOGIN", Err: err}
	}
	user := base64.StdEncoding.EncodeToString([]byte(username))
	if _, err := c.secret(ctx, "username", user, 334); err != nil {
		return &AuthError{Step: "username", Err: err}
	}
	pass := base64.StdEncoding.EncodeToString([]byte(password))
	if _, err := c.secret(ctx, "password", pass, 235); err != nil {
		return &AuthError{Step: "password", Err: err}
	}
	c.state = Authenticated
	c.logger.Debug().Msg("Authenticated")
	return nil
}

// SendMail runs one mail transaction.  msg is dot-stuffed and terminated here, it must be the
// plain RFC 5322 message.
func (c *Client) SendMail(ctx context.Context, from, to string, msg []byte) error {
	if !c.acquire() {
		return ErrCommandInFlight
	}
	defer c.release()
	if err := c.envelope(ctx, from, to); err != nil {
		return err
	}
	if _, err := c.command(ctx, "DATA", "DATA", 354); err != nil {
		return err
	}

	body := message.DotStuff(msg)
	if len(body) > 0 && !bytes.HasSuffix(body, []byte("\r\n")) {
		body = append(body, '\r', '\n')
	}
	body = append(body, '.', '\r', '\n')
	if err := c.write("end of data", body); err != nil {
		return err
	}
	c.logger.Debug().Int("bytes", len(msg)).Msg("Sent message data")
	if _, err := c.await(ctx, "end of data", 250); err != nil {
		return err
	}
	c.state = c.ready
	expDeliveredTotal.Add(1)
	c.logger.Info().Str("from", from).Str("to", to).Int("size", len(msg)).Msg("Message delivered")
	return nil
}

// VerifyRecipient checks that the server accepts the sender and recipient, then resets the
// transaction without sending anything.
func (c *Client) VerifyRecipient(ctx context.Context, from, to string) error {
	if !c.acquire() {
		return ErrCommandInFlight
	}
	defer c.release()
	if err := c.envelope(ctx, from, to); err != nil {
		return err
	}
	if _, err := c.command(ctx, "RSET", "RSET", 250); err != nil {
		return err
	}
	c.state = c.ready
	expVerifiedTotal.Add(1)
	c.logger.Info().Str("from", from).Str("to", to).Msg("Recipient verified")
	return nil
}

// Quit sends QUIT and closes the transport.  It never fails and is safe to call in any state,
// including while another command is in flight, which is then aborted.
func (c *Client) Quit(ctx context.Context) {
	if !c.acquire() {
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		c.logger.Debug().Msg("Closed transport under in-flight command")
		return
	}
	defer c.release()
	if c.state == Disconnected && c.conn == nil {
		return
	}
	if c.conn != nil {
		if _, err := c.command(ctx, "QUIT", "QUIT", 221, 250); err != nil {
			c.logger.Debug().Err(err).Msg("QUIT failed")
		}
	}
	c.teardown()
	c.logger.Debug().Msg("Disconnected")
}

// envelope sends MAIL FROM and RCPT TO.
func (c *Client) envelope(ctx context.Context, from, to string) error {
	if err := c.requireGreeted("MAIL FROM"); err != nil {
		return err
	}
	if c.state != InTransaction {
		c.ready = c.state
	}
	if _, err := c.command(ctx, "MAIL FROM", "MAIL FROM:<"+from+">", 250); err != nil {
		return err
	}
	c.state = InTransaction
	_, err := c.command(ctx, "RCPT TO", "RCPT TO:<"+to+">", 250, 251)
	return err
}

func (c *Client) requireGreeted(command string) error {
	switch c.state {
	case Disconnected:
		return ErrNotConnected
	case Connected:
		return fmt.Errorf("%w: %s before EHLO", ErrOutOfSequence, command)
	}
	return nil
}

// command sends line and waits for a response with one of the accepted codes.
func (c *Client) command(ctx context.Context, name, line string, accept ...int) (*Response, error) {
	c.logger.Debug().Str("send", line).Msg("Command")
	if err := c.write(name, []byte(line+"\r\n")); err != nil {
		return nil, err
	}
	return c.await(ctx, name, accept...)
}

// secret is command with the line kept out of the log.
func (c *Client) secret(ctx context.Context, name, line string, accept ...int) (*Response, error) {
	c.logger.Debug().Str("send", "<"+name+" redacted>").Msg("Command")
	if err := c.write(name, []byte(line+"\r\n")); err != nil {
		return nil, err
	}
	return c.await(ctx, name, accept...)
}

func (c *Client) write(name string, b []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	expCommandsTotal.Add(1)
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
		return &TransportError{Op: name, Err: err}
	}
	if _, err := c.conn.Write(b); err != nil {
		c.logger.Error().Str("command", name).Err(err).Msg("Failed to send")
		return &TransportError{Op: name, Err: err}
	}
	return nil
}

// await registers the pending waiter and blocks until a complete response arrives, the
// timeout elapses or ctx is done.  Responses already queued are consumed first, in arrival
// order.  The transport is left open on every outcome.
func (c *Client) await(ctx context.Context, name string, accept ...int) (*Response, error) {
	if c.pending != nil {
		return nil, ErrCommandInFlight
	}
	start := time.Now()
	w := &waiter{command: name, accept: accept, deadline: start.Add(c.opts.Timeout)}
	c.pending = w
	defer func() { c.pending = nil }()

	if resp, ok := c.reader.next(); ok {
		return c.resolve(w, resp)
	}
	conn := c.conn
	if err := conn.SetReadDeadline(w.deadline); err != nil {
		return nil, &TransportError{Op: name, Err: err}
	}
	// Expire the read immediately once ctx is done, registered after the deadline above so it
	// cannot be overwritten.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	if c.readBuf == nil {
		c.readBuf = make([]byte, readBufferSize)
	}
	for {
		n, err := conn.Read(c.readBuf)
		c.reader.feed(c.readBuf[:n])
		if resp, ok := c.reader.next(); ok {
			return c.resolve(w, resp)
		}
		if err != nil {
			return nil, c.readError(ctx, w, start, err)
		}
	}
}

// resolve completes w with resp, logging rejections.
func (c *Client) resolve(w *waiter, resp Response) (*Response, error) {
	r, err := w.resolve(resp)
	if err != nil {
		c.logger.Warn().Str("command", w.command).Int("code", resp.Code).Str("recv", resp.Message()).
			Msg("Command rejected")
	}
	return r, err
}

func (c *Client) readError(ctx context.Context, w *waiter, start time.Time, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger.Error().Str("command", w.command).Err(ctxErr).Msg("Abandoned waiting for response")
		return &TimeoutError{Command: w.command, After: time.Since(start), Err: ctxErr}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.logger.Error().Str("command", w.command).Msg("Timed out waiting for response")
		return &TimeoutError{Command: w.command, After: time.Since(start), Err: err}
	}
	c.logger.Error().Str("command", w.command).Err(err).Msg("Failed to read response")
	return &TransportError{Op: w.command, Err: err}
}

func (c *Client) handshake(ctx context.Context, tconn *tls.Conn) error {
	hctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	if err := tconn.HandshakeContext(hctx); err != nil {
		c.logger.Error().Err(err).Msg("TLS handshake failed")
		return &TransportError{Op: "TLS handshake", Err: err}
	}
	return nil
}

func (c *Client) tlsConfig() *tls.Config {
	if c.opts.TLSConfig != nil {
		cfg := c.opts.TLSConfig.Clone()
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			cfg.ServerName = c.opts.Host
		}
		return cfg
	}
	return &tls.Config{ServerName: c.opts.Host, MinVersion: tls.VersionTLS12}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// teardown closes the transport and forgets all session state.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.reader.reset()
	c.state = Disconnected
	c.ready = Disconnected
	c.exts = nil
}

func (c *Client) acquire() bool {
	return c.busy.CompareAndSwap(false, true)
}

func (c *Client) release() {
	c.busy.Store(false)
}
