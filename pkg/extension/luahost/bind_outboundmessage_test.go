package luahost

import (
	"testing"

	"github.com/inbucket/bookmailer/pkg/extension/event"
	"github.com/inbucket/bookmailer/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundMessageGetters(t *testing.T) {
	want := &event.OutboundMessage{
		From:     "from@example.com",
		To:       "to@example.com",
		Subject:  "subj1",
		Text:     "text1",
		Filename: "Book.epub",
		Size:     42,
	}
	script := `
		assert(msg, "msg should not be nil")

		assert_eq(msg.from, "from@example.com")
		assert_eq(msg.to, "to@example.com")
		assert_eq(msg.subject, "subj1")
		assert_eq(msg.text, "text1")
		assert_eq(msg.filename, "Book.epub")
		assert_eq(msg.size, 42)
		assert(msg.unknown == nil, "unknown field should be nil")
	`

	ls, _ := test.NewLuaState()
	registerOutboundMessageType(ls)
	ls.SetGlobal("msg", wrapOutboundMessage(ls, want))
	require.NoError(t, ls.DoString(script))
}

func TestOutboundMessageSetters(t *testing.T) {
	want := &event.OutboundMessage{
		From:     "from@example.com",
		To:       "to@example.com",
		Subject:  "subj1",
		Text:     "text1",
		Filename: "Book.epub",
	}
	script := `
		msg.from = "from@example.com"
		msg.to = "to@example.com"
		msg.subject = "subj1"
		msg.text = "text1"
		msg.filename = "Book.epub"
	`

	got := &event.OutboundMessage{}
	ls, _ := test.NewLuaState()
	registerOutboundMessageType(ls)
	ls.SetGlobal("msg", wrapOutboundMessage(ls, got))
	require.NoError(t, ls.DoString(script))
	assert.Equal(t, want, got)

	require.Error(t, ls.DoString(`msg.size = 1`), "size is read-only")
	require.Error(t, ls.DoString(`msg.bogus = 1`))
}

func TestOutboundMessageNewCopies(t *testing.T) {
	orig := &event.OutboundMessage{Subject: "orig", Size: 7}
	script := `
		copy = outbound_message.new(msg)
		copy.subject = "changed"
		assert_eq(msg.subject, "orig")
		assert_eq(copy.size, 7)

		empty = outbound_message.new()
		assert_eq(empty.subject, "")
	`

	ls, _ := test.NewLuaState()
	registerOutboundMessageType(ls)
	ls.SetGlobal("msg", wrapOutboundMessage(ls, orig))
	require.NoError(t, ls.DoString(script))

	got, err := unwrapOutboundMessage(ls.GetGlobal("copy"))
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Subject)
	assert.Equal(t, "orig", orig.Subject)

	_, err = unwrapOutboundMessage(ls.GetGlobal("nothing"))
	assert.Error(t, err)
}
