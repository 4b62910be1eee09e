// Package policy validates the envelope addresses used for outbound delivery.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strings"
)

const (
	maxAddressLen = 320
	maxLocalLen   = 128
	maxDomainLen  = 255
	maxLabelLen   = 63
)

// Addressing handles email address policy.
type Addressing struct {
	// AllowDomains restricts recipients to these domains and their subdomains, empty allows
	// any domain.
	AllowDomains []string
}

// NewRecipient parses an address into a Recipient.
func (a *Addressing) NewRecipient(address string) (*Recipient, error) {
	addr, local, domain, err := parseMailbox(address)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	return &Recipient{
		Address:    *addr,
		addrPolicy: a,
		LocalPart:  local,
		Domain:     domain,
	}, nil
}

// NewOrigin parses an address into an Origin.
func (a *Addressing) NewOrigin(address string) (*Origin, error) {
	addr, local, domain, err := parseMailbox(address)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	return &Origin{Address: *addr, LocalPart: local, Domain: domain}, nil
}

// ShouldSendToDomain indicates if mail may be delivered to the specified domain.
func (a *Addressing) ShouldSendToDomain(domain string) bool {
	if len(a.AllowDomains) == 0 {
		return true
	}
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	return slices.ContainsFunc(a.AllowDomains, func(allowed string) bool {
		allowed = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(allowed)), ".")
		return domain == allowed || strings.HasSuffix(domain, "."+allowed)
	})
}

// parseMailbox accepts either a bare address or a named address such as `Ann <ann@example.com>`,
// and requires a valid domain part.
func parseMailbox(address string) (*mail.Address, string, string, error) {
	address = strings.TrimSpace(address)
	addr := &mail.Address{Address: address}
	if strings.ContainsAny(address, "<>") {
		parsed, err := mail.ParseAddress(address)
		if err != nil {
			return nil, "", "", err
		}
		addr = parsed
	}
	local, domain, err := ParseEmailAddress(addr.Address)
	if err != nil {
		return nil, "", "", err
	}
	return addr, local, domain, nil
}

// ParseEmailAddress unescapes an email address, and splits the local part from the domain part.
// An error is returned if the local or domain parts fail validation following the guidelines
// in RFC3696.
func ParseEmailAddress(address string) (local string, domain string, err error) {
	local, domain, err = parseEmailAddress(address)
	if err != nil {
		return "", "", err
	}
	if domain == "" {
		return "", "", fmt.Errorf("address %q has no domain part", address)
	}
	if !ValidateDomainPart(domain) {
		return "", "", fmt.Errorf("domain part %q failed validation", domain)
	}
	return local, domain, nil
}

// ValidateDomainPart returns true if the domain part complies to RFC3696, RFC1035.
func ValidateDomainPart(domain string) bool {
	if len(domain) == 0 || len(domain) > maxDomainLen {
		return false
	}
	if domain[len(domain)-1] != '.' {
		domain += "."
	}
	prev := '.'
	labelLen := 0
	hasAlphaNum := false
	for _, c := range domain {
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') ||
			('0' <= c && c <= '9') || c == '_':
			// Must contain some of these to be a valid label.
			hasAlphaNum = true
			labelLen++
		case c == '-':
			if prev == '.' {
				// Cannot lead with hyphen.
				return false
			}
		case c == '.':
			if prev == '.' || prev == '-' {
				// Cannot end with hyphen or double-dot.
				return false
			}
			if labelLen > maxLabelLen || !hasAlphaNum {
				return false
			}
			labelLen = 0
			hasAlphaNum = false
		default:
			return false
		}
		prev = c
	}
	return true
}

// unquotedSpecials may appear in a local part without quoting.
var unquotedSpecials = []byte("!#$%&'*+-/=?^_`{|}~")

// parseEmailAddress unescapes an email address, and splits the local part from the domain part.
// An error is returned if the local part fails validation following the guidelines in RFC3696.
// The domain part is not validated here.
func parseEmailAddress(address string) (local string, domain string, err error) {
	switch {
	case address == "":
		return "", "", errors.New("empty address")
	case len(address) > maxAddressLen:
		return "", "", fmt.Errorf("address exceeds %d characters", maxAddressLen)
	case address[0] == '@':
		return "", "", errors.New("address cannot start with @ symbol")
	case address[0] == '.':
		return "", "", errors.New("address cannot start with a period")
	}

	var buf bytes.Buffer
	prev := byte('.')
	inCharQuote := false
	inStringQuote := false
	quoted := func() bool { return inCharQuote || inStringQuote }
LOOP:
	for i := 0; i < len(address); i++ {
		c := address[i]
		switch {
		case ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9'),
			bytes.IndexByte(unquotedSpecials, c) >= 0:
			buf.WriteByte(c)
			inCharQuote = false
		case c == '.':
			if prev == '.' {
				return "", "", errors.New("sequence of periods is not permitted")
			}
			buf.WriteByte(c)
			inCharQuote = false
		case c == '\\':
			inCharQuote = true
		case c == '"':
			switch {
			case inCharQuote:
				buf.WriteByte(c)
				inCharQuote = false
			case inStringQuote:
				inStringQuote = false
			case i == 0:
				inStringQuote = true
			default:
				return "", "", errors.New("quoted string can only begin at start of address")
			}
		case c == '@':
			if quoted() {
				buf.WriteByte(c)
				inCharQuote = false
				break
			}
			if i > maxLocalLen {
				return "", "", fmt.Errorf("local part must not exceed %d characters", maxLocalLen)
			}
			if prev == '.' {
				return "", "", errors.New("local part cannot end with a period")
			}
			domain = address[i+1:]
			break LOOP
		case c > 127:
			return "", "", errors.New("characters outside of US-ASCII range not permitted")
		default:
			if !quoted() {
				return "", "", fmt.Errorf("character %q must be quoted", c)
			}
			buf.WriteByte(c)
			inCharQuote = false
		}
		prev = c
	}
	if inCharQuote {
		return "", "", errors.New("cannot end address with unterminated quoted-pair")
	}
	if inStringQuote {
		return "", "", errors.New("cannot end address with unterminated string quote")
	}
	return buf.String(), domain, nil
}
