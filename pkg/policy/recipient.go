package policy

import "net/mail"

// Recipient represents a delivery recipient, allows policies for it to be queried.
type Recipient struct {
	mail.Address
	addrPolicy *Addressing
	// LocalPart is the unescaped part of the address before @.
	LocalPart string
	// Domain is the part of the address after @.
	Domain string
}

// ShouldSend returns true if mail may be delivered to this recipient.
func (r *Recipient) ShouldSend() bool {
	return r.addrPolicy.ShouldSendToDomain(r.Domain)
}
