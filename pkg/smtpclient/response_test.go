package smtpclient

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T) *responseReader {
	return &responseReader{logger: zerolog.New(zerolog.NewTestWriter(t))}
}

func TestResponseReaderAssemblesAcrossReads(t *testing.T) {
	r := newTestReader(t)
	for _, chunk := range []string{"25", "0-first\r", "\n250-sec", "ond\r\n250 last", "\r\n"} {
		_, ok := r.next()
		require.False(t, ok, "response completed early, before %q", chunk)
		r.feed([]byte(chunk))
	}
	resp, ok := r.next()
	require.True(t, ok)
	assert.Equal(t, 250, resp.Code)
	assert.Equal(t, []string{"first", "second", "last"}, resp.Lines)
	assert.Equal(t, "first\nsecond\nlast", resp.Message())
	assert.False(t, r.buffered())
}

func TestResponseReaderQueuesInArrivalOrder(t *testing.T) {
	r := newTestReader(t)
	r.feed([]byte("220 ready\r\n250-a\r\n250 b\r\n354 go\r\n"))

	want := []Response{
		{Code: 220, Lines: []string{"ready"}},
		{Code: 250, Lines: []string{"a", "b"}},
		{Code: 354, Lines: []string{"go"}},
	}
	for _, w := range want {
		got, ok := r.next()
		require.True(t, ok)
		assert.Equal(t, w, got)
	}
	_, ok := r.next()
	assert.False(t, ok)
}

func TestResponseReaderLineForms(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		code  int
		lines []string
	}{
		{"bare code", "250\r\n", 250, []string{""}},
		{"empty continuation", "250-\r\n250 ok\r\n", 250, []string{"", "ok"}},
		{"bare LF", "221 bye\n", 221, []string{"bye"}},
		{"malformed ignored", "hello there\r\n2x0 nope\r\n220 ok\r\n", 220, []string{"ok"}},
		{"final code wins", "250-a\r\n251 b\r\n", 251, []string{"a", "b"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReader(t)
			r.feed([]byte(tc.input))
			got, ok := r.next()
			require.True(t, ok)
			assert.Equal(t, tc.code, got.Code)
			assert.Equal(t, tc.lines, got.Lines)
			_, ok = r.next()
			assert.False(t, ok)
		})
	}
}

func TestResponseReaderBuffered(t *testing.T) {
	r := newTestReader(t)
	assert.False(t, r.buffered())
	r.feed([]byte("250"))
	assert.True(t, r.buffered(), "partial line")
	r.feed([]byte("-a\r\n"))
	assert.True(t, r.buffered(), "incomplete response")
	r.feed([]byte("250 b\r\n"))
	assert.True(t, r.buffered(), "queued response")
	_, _ = r.next()
	assert.False(t, r.buffered())

	r.feed([]byte("220 x\r\n22"))
	r.reset()
	assert.False(t, r.buffered())
}

func TestWaiterResolve(t *testing.T) {
	w := &waiter{command: "RCPT TO", accept: []int{250, 251}}
	resp, err := w.resolve(Response{Code: 251, Lines: []string{"forwarded"}})
	require.NoError(t, err)
	assert.Equal(t, 251, resp.Code)

	_, err = w.resolve(Response{Code: 550, Lines: []string{"mailbox", "unavailable"}})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "RCPT TO", perr.Command)
	assert.Equal(t, 550, perr.Code)
	assert.Equal(t, "mailbox\nunavailable", perr.Message)
}
