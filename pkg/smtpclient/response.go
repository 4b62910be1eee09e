package smtpclient

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// responseLine matches a reply line: three digit code, then a space for the final line or a
// hyphen for a continuation.  A bare code is a final line.
var responseLine = regexp.MustCompile(`^(\d{3})(?:([ -])(.*))?$`)

// Response is one complete, possibly multi-line, server reply.
type Response struct {
	Code  int
	Lines []string // Text of each line with the code and separator removed.
}

// Message joins the response text lines.
func (r *Response) Message() string {
	return strings.Join(r.Lines, "\n")
}

// responseReader turns the raw byte stream from the server into complete responses.  It knows
// nothing of commands: assembled responses are queued until a waiter takes them.
type responseReader struct {
	logger  zerolog.Logger
	partial []byte     // Bytes after the last line feed.
	lines   []string   // Continuation lines of the response being assembled.
	queue   []Response // Complete responses not yet taken.
}

// feed appends b to the stream, assembling any lines it completes.
func (r *responseReader) feed(b []byte) {
	r.partial = append(r.partial, b...)
	for {
		i := bytes.IndexByte(r.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(r.partial[:i]), "\r")
		r.partial = r.partial[i+1:]
		r.line(line)
	}
	if len(r.partial) == 0 {
		r.partial = nil
	}
}

func (r *responseReader) line(line string) {
	m := responseLine.FindStringSubmatch(line)
	if m == nil {
		r.logger.Debug().Str("recv", line).Msg("Ignoring malformed response line")
		return
	}
	code, _ := strconv.Atoi(m[1])
	r.lines = append(r.lines, m[3])
	if m[2] == "-" {
		return
	}
	resp := Response{Code: code, Lines: r.lines}
	r.lines = nil
	r.logger.Debug().Int("code", code).Str("recv", resp.Message()).Msg("Response")
	r.queue = append(r.queue, resp)
}

// next removes and returns the oldest complete response.
func (r *responseReader) next() (Response, bool) {
	if len(r.queue) == 0 {
		return Response{}, false
	}
	resp := r.queue[0]
	r.queue = r.queue[1:]
	return resp, true
}

// buffered reports whether any received bytes have not been handed to a waiter.
func (r *responseReader) buffered() bool {
	return len(r.partial) > 0 || len(r.lines) > 0 || len(r.queue) > 0
}

func (r *responseReader) reset() {
	r.partial = nil
	r.lines = nil
	r.queue = nil
}
