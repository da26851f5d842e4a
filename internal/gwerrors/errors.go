// Package gwerrors defines the typed error taxonomy for the gateway core
// (spec §7). Each kind is a distinct Go type so SMTP-facing code can map
// errors to protocol responses with a type switch instead of string
// matching, and so non-SMTP callers (store, chaos, auth) can carry
// structured detail without depending on the SMTP layer.
package gwerrors

import "fmt"

// AddressInvalidKind enumerates why an address failed validation (spec §4.1).
type AddressInvalidKind string

const (
	AddressTooLong      AddressInvalidKind = "too_long"
	AddressInvalidFormat AddressInvalidKind = "invalid_format"
	AddressControlChars AddressInvalidKind = "control_chars"
	AddressEmpty        AddressInvalidKind = "empty"
)

// AddressInvalid is returned by address validation (spec §4.1).
type AddressInvalid struct {
	Kind    AddressInvalidKind
	Address string
}

func (e *AddressInvalid) Error() string {
	return fmt.Sprintf("address invalid (%s): %q", e.Kind, e.Address)
}

// DomainNotAllowed is returned when a recipient domain is not in the
// configured allow-list (spec §4.7 RCPT TO).
type DomainNotAllowed struct {
	Domain string
}

func (e *DomainNotAllowed) Error() string {
	return fmt.Sprintf("domain not allowed: %s", e.Domain)
}

// InboxNotFound is returned when a recipient's base email has no
// registered inbox (spec §4.7 RCPT TO).
type InboxNotFound struct {
	BaseEmail string
}

func (e *InboxNotFound) Error() string {
	return fmt.Sprintf("inbox not found: %s", e.BaseEmail)
}

// HardModeActive is returned from MAIL FROM when hard mode is enabled and
// no inboxes exist (spec §4.7, §9 Open Question 4: MAIL FROM only).
type HardModeActive struct {
	Code int
}

func (e *HardModeActive) Error() string {
	return "hard mode active: no inboxes registered"
}

// RateLimitExceeded is returned by the rate limiter on bucket exhaustion
// (spec §4.2).
type RateLimitExceeded struct {
	RetryAfterMs int64
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %dms", e.RetryAfterMs)
}

// SizeExceeded is returned at DATA when the message exceeds the configured
// ceiling (spec §4.7, §8).
type SizeExceeded struct {
	Limit int64
}

func (e *SizeExceeded) Error() string {
	return fmt.Sprintf("message exceeds size limit of %d bytes", e.Limit)
}

// ChaosSMTP carries a literal SMTP response dictated by a chaos Error action
// (spec §4.6). Greylist is set when the response is a greylist retry
// rejection rather than a configured Error action, so callers can record the
// two outcomes under distinct metrics.
type ChaosSMTP struct {
	Code     int
	Enhanced string
	Message  string
	Greylist bool
}

func (e *ChaosSMTP) Error() string {
	return fmt.Sprintf("%d %s %s", e.Code, e.Enhanced, e.Message)
}

// ChaosDrop signals the session should close the socket (spec §4.6).
type ChaosDrop struct {
	Graceful bool
}

func (e *ChaosDrop) Error() string {
	if e.Graceful {
		return "chaos drop: graceful close"
	}
	return "chaos drop: abrupt close"
}

// CryptoFailure wraps an internal encryption failure (spec §7).
type CryptoFailure struct {
	Cause error
}

func (e *CryptoFailure) Error() string {
	return fmt.Sprintf("crypto failure: %v", e.Cause)
}

func (e *CryptoFailure) Unwrap() error { return e.Cause }

// StoreFullUnableToEvict is the defensive error raised when eviction cannot
// free enough space (spec §4.8 step 3, §7).
type StoreFullUnableToEvict struct{}

func (e *StoreFullUnableToEvict) Error() string {
	return "store full: unable to evict enough entries"
}

// Internal wraps any unanticipated error (spec §7).
type Internal struct {
	Cause error
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error: %v", e.Cause)
}

func (e *Internal) Unwrap() error { return e.Cause }
