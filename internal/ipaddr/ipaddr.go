// Package ipaddr normalizes remote IP forms and validates/canonicalizes
// SMTP envelope addresses per RFC 5321 length limits (spec §4.1). It
// generalizes the address-splitting helpers the teacher inlines in
// internal/smtp/server.go into a standalone, fully-tested contract.
package ipaddr

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

const (
	maxAddressLen = 320
	maxLocalLen   = 64
	maxDomainLen  = 255
)

// NormalizeIP trims whitespace, drops an IPv6 zone identifier, and strips
// an IPv4-mapped IPv6 prefix. Empty input normalizes to the empty string.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	if idx := strings.IndexByte(ip, '%'); idx != -1 {
		ip = ip[:idx]
	}
	const v4MappedPrefix = "::ffff:"
	if strings.HasPrefix(strings.ToLower(ip), v4MappedPrefix) {
		ip = ip[len(v4MappedPrefix):]
	}
	return ip
}

// IsNullSender reports whether addr is the bounce sentinel (empty or "<>").
func IsNullSender(addr string) bool {
	return addr == "" || addr == "<>"
}

// ValidateAddress enforces the length/grammar checks of spec §4.1, in
// order, returning the first violation found as a typed *gwerrors.AddressInvalid.
func ValidateAddress(addr string) error {
	if IsNullSender(addr) {
		return nil
	}
	if len(addr) > maxAddressLen {
		return &gwerrors.AddressInvalid{Kind: gwerrors.AddressTooLong, Address: addr}
	}
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c <= 0x1F || c == 0x7F {
			return &gwerrors.AddressInvalid{Kind: gwerrors.AddressControlChars, Address: addr}
		}
	}
	at := strings.IndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 || strings.Count(addr, "@") != 1 {
		return &gwerrors.AddressInvalid{Kind: gwerrors.AddressInvalidFormat, Address: addr}
	}
	local, domain := addr[:at], addr[at+1:]
	if len(local) > maxLocalLen || len(domain) > maxDomainLen {
		return &gwerrors.AddressInvalid{Kind: gwerrors.AddressTooLong, Address: addr}
	}
	return nil
}

// Domain extracts and lowercases the post-@ substring. Caller must have
// validated addr first; Domain does not re-validate.
func Domain(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at == -1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// BaseEmail strips a "+tag" subaddress suffix from the local part only;
// the domain is untouched. Callers lowercase separately when the result
// is used as an inbox key.
func BaseEmail(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at == -1 {
		return addr
	}
	local, domain := addr[:at], addr[at+1:]
	if plus := strings.IndexByte(local, '+'); plus != -1 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// InboxKey is the normalized form used to key inbox lookups: base email,
// fully lowercased.
func InboxKey(addr string) string {
	return strings.ToLower(BaseEmail(addr))
}

// InboxHash derives the opaque subscription key spec §3 names for an
// Inbox: a non-reversible digest of the normalized base email, hex-encoded
// and truncated to 16 bytes, following internal/utils.HashEmail's
// sha256-then-truncate idiom. Unlike InboxKey, this value is meant to
// cross process boundaries (event bus topics, webhook envelopes) without
// exposing the address it was derived from.
func InboxHash(inboxKey string) string {
	sum := sha256.Sum256([]byte(inboxKey))
	return hex.EncodeToString(sum[:])[:32]
}
