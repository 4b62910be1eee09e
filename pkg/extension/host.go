package extension

import (
	"github.com/inbucket/bookmailer/pkg/extension/event"
)

// Host defines extension points for bookmailer.
type Host struct {
	Events *Events
}

// Events defines all the event types supported by the extension host.
//
// Before-events provide an opportunity for extensions to alter what is delivered.  These events
// are processed synchronously, the first listener in the list to respond with a non-nil value
// determines the result, and the remaining listeners will not be called.
//
// After-events allow extensions to take an action after a delivery has completed.  These events
// are processed asynchronously, use Wait on the broker to let them finish before exiting.
type Events struct {
	AfterMessageSent       AsyncEventBroker[event.DeliveryResult]
	AfterRecipientVerified AsyncEventBroker[event.DeliveryResult]
	BeforeMessageSent      EventBroker[event.OutboundMessage, event.OutboundMessage]
}

// NewHost creates a new extension host.
func NewHost() *Host {
	return &Host{Events: &Events{}}
}
