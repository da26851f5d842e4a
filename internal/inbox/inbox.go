// Package inbox defines the Inbox collaborator interface spec §6 names
// (get_inbox_by_email, get_inbox_count, add_email, evict_email,
// get_inbox) plus an in-memory default implementation so the gateway
// core is runnable and testable standalone, without an external registry
// service wired in. The thin-wrapper-over-a-mutex-guarded-map idiom is
// grounded on store/ephemeral/{ttl_store,nonce_store}.go, which both wrap
// a shared core with a narrow typed surface; here the "core" is the
// per-inbox ordered message buffer instead of a TTL map.
package inbox

import (
	"errors"
	"sync"

	"github.com/vaultsandbox/gateway/internal/gwerrors"
)

var (
	errInvalidStoredMessage = errors.New("inbox: message does not implement StoredMessage")
	errMessageNotFound      = errors.New("inbox: message not found")
)

// StoredMessage is satisfied by emailstore.StoredMessage; declared here as
// an opaque interface so this package does not import emailstore (which
// itself depends on Collaborator), avoiding an import cycle.
type StoredMessage interface {
	// MessageID returns the stored message's identifier.
	MessageID() string
}

// ChaosSettings carries the optional per-inbox chaos override (spec §4.6).
// A nil value means the inbox defers to the global chaos configuration.
type ChaosSettings struct {
	Entries interface{} // holds []chaos.Entry; typed as interface{} to avoid an inbox->chaos import
}

// Inbox is the record spec §4.1/§4.6 names: identity, crypto mode, and
// per-inbox policy toggles. Messages are exposed only through Collaborator
// methods, never as a field, so storage remains append/evict-only here.
type Inbox struct {
	BaseEmail           string
	InboxHash           string
	Encrypted           bool
	ClientKemPublicKey  []byte
	EmailAuthEnabled    bool
	SpamAnalysisEnabled bool
	Chaos               *ChaosSettings
}

// Collaborator is the interface spec §6 names for inbox lookup and
// message lifecycle management.
type Collaborator interface {
	GetInboxByEmail(baseEmail string) (*Inbox, bool)
	GetInboxCount() int
	AddEmail(inboxKey string, message interface{}) error
	EvictEmail(inboxKey, messageID string) error
	GetInbox(inboxKey string) (*Inbox, bool)
}

type inboxRecord struct {
	inbox    Inbox
	messages []storedEntry
}

type storedEntry struct {
	id      string
	message interface{}
}

// MemoryCollaborator is the default in-memory Collaborator implementation.
// Inboxes are registered via Register/Unregister; messages are appended in
// insertion order (spec invariant I5) and evicted by id.
type MemoryCollaborator struct {
	mu      sync.RWMutex
	records map[string]*inboxRecord // keyed by inbox_key (lowercased base email)
}

// NewMemoryCollaborator creates an empty MemoryCollaborator.
func NewMemoryCollaborator() *MemoryCollaborator {
	return &MemoryCollaborator{records: make(map[string]*inboxRecord)}
}

// Register adds or replaces the inbox record for inboxKey.
func (c *MemoryCollaborator) Register(inboxKey string, in Inbox) {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.records[inboxKey]
	if !ok {
		c.records[inboxKey] = &inboxRecord{inbox: in}
		return
	}
	existing.inbox = in
}

// Unregister removes the inbox and all of its messages.
func (c *MemoryCollaborator) Unregister(inboxKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, inboxKey)
}

func (c *MemoryCollaborator) GetInboxByEmail(baseEmail string) (*Inbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, rec := range c.records {
		if rec.inbox.BaseEmail == baseEmail {
			in := rec.inbox
			_ = key
			return &in, true
		}
	}
	return nil, false
}

func (c *MemoryCollaborator) GetInboxCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *MemoryCollaborator) GetInbox(inboxKey string) (*Inbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[inboxKey]
	if !ok {
		return nil, false
	}
	in := rec.inbox
	return &in, true
}

// AddEmail appends message to inboxKey's ordered buffer. message must
// implement StoredMessage so its id can be tracked for later eviction.
func (c *MemoryCollaborator) AddEmail(inboxKey string, message interface{}) error {
	sm, ok := message.(StoredMessage)
	if !ok {
		return &gwerrors.Internal{Cause: errInvalidStoredMessage}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[inboxKey]
	if !ok {
		return &gwerrors.InboxNotFound{BaseEmail: inboxKey}
	}
	rec.messages = append(rec.messages, storedEntry{id: sm.MessageID(), message: message})
	return nil
}

// EvictEmail removes the message identified by messageID from inboxKey's
// buffer. Missing inbox or missing message is reported so the caller
// (emailstore) can tombstone defensively and log, per spec §4.8.
func (c *MemoryCollaborator) EvictEmail(inboxKey, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[inboxKey]
	if !ok {
		return &gwerrors.InboxNotFound{BaseEmail: inboxKey}
	}
	for i, entry := range rec.messages {
		if entry.id == messageID {
			rec.messages = append(rec.messages[:i], rec.messages[i+1:]...)
			return nil
		}
	}
	return &gwerrors.Internal{Cause: errMessageNotFound}
}

// Messages returns inboxKey's stored messages in insertion order, for
// tests and any future read-side API.
func (c *MemoryCollaborator) Messages(inboxKey string) []interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[inboxKey]
	if !ok {
		return nil
	}
	out := make([]interface{}, len(rec.messages))
	for i, e := range rec.messages {
		out[i] = e.message
	}
	return out
}
