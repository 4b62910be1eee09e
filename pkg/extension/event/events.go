// Package event defines the payloads passed to extension event listeners.
package event

import (
	"time"
)

// OutboundMessage describes a message about to be encoded and delivered.  A BeforeMessageSent
// listener may return a modified copy to change what is sent.
type OutboundMessage struct {
	From     string
	To       string
	Subject  string
	Text     string
	Filename string
	Size     int // Attachment size in bytes.
}

// DeliveryResult describes a finished delivery or recipient verification.
type DeliveryResult struct {
	Message  OutboundMessage
	Server   string // host:port
	Verified bool   // True for verification-only sessions.
	Duration time.Duration
	Error    string // Empty on success.
}

// Success reports whether the session completed without error.
func (r DeliveryResult) Success() bool {
	return r.Error == ""
}
