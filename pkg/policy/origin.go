package policy

import (
	"net/mail"
)

// Origin represents the envelope sender of a delivery.
type Origin struct {
	mail.Address
	// LocalPart is the unescaped part of the address before @.
	LocalPart string
	// Domain is the part of the address after @.
	Domain string
}
