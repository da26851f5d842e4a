// Package emailstore implements the bounded in-memory message store of
// spec §4.8: a global insertion-ordered index tracking memory usage across
// all inboxes, FIFO eviction when the configured memory budget is
// exceeded, and tombstone-based deletion so eviction never needs to
// shift the index. The mutex-guarded map plus background-ticker idiom is
// grounded on store/ephemeral/core.go's coreStore (same lock shape, same
// goroutine-per-sweep pattern), generalized from a single TTL map into an
// ordered index with size accounting.
package emailstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/vaultsandbox/gateway/internal/gwerrors"
	"github.com/vaultsandbox/gateway/internal/inbox"
	"github.com/vaultsandbox/gateway/internal/logging"
	"github.com/vaultsandbox/gateway/internal/utils"
)

// EncryptedPayload is the encrypted variant of StoredMessage (spec §6).
type EncryptedPayload struct {
	Metadata EncryptedBlob
	Parsed   EncryptedBlob
	Raw      EncryptedBlob
}

// EncryptedBlob is the store's own copy of the six-byte-string record, kept
// independent of internal/cryptoengine's type so this package does not
// need to import the crypto engine just to describe storage shape.
type EncryptedBlob struct {
	CtKem       []byte
	Nonce       []byte
	AAD         []byte
	Ciphertext  []byte
	Sig         []byte
	ServerSigPk []byte
}

func (b EncryptedBlob) size() int {
	return len(b.CtKem) + len(b.Nonce) + len(b.AAD) + len(b.Ciphertext) + len(b.Sig) + len(b.ServerSigPk) + 100
}

// PlainPayload is the plain variant of StoredMessage (spec §6).
type PlainPayload struct {
	MetadataBytes []byte
	ParsedBytes   []byte
	RawBytes      []byte
}

func (p PlainPayload) size() int {
	return len(p.MetadataBytes) + len(p.ParsedBytes) + len(p.RawBytes)
}

// StoredMessage is the sum type spec §6 names: exactly one of Encrypted or
// Plain is populated.
type StoredMessage struct {
	ID        string
	Encrypted *EncryptedPayload
	Plain     *PlainPayload
	IsRead    bool
}

// MessageID satisfies inbox.StoredMessage.
func (m StoredMessage) MessageID() string { return m.ID }

func (m StoredMessage) size() int {
	switch {
	case m.Encrypted != nil:
		return m.Encrypted.Metadata.size() + m.Encrypted.Parsed.size() + m.Encrypted.Raw.size()
	case m.Plain != nil:
		return m.Plain.size()
	default:
		return 0
	}
}

type indexEntry struct {
	messageID  string
	inboxKey   string
	size       int
	receivedAt time.Time
	tombstone  bool
}

// Store implements spec §4.8's bounded in-memory FIFO+tombstone index. It
// depends only on the inbox.Collaborator interface to read/mutate
// inbox-visible storage — the index itself never holds message bytes.
type Store struct {
	mu sync.Mutex

	inbox inbox.Collaborator

	maxMemoryBytes int64
	maxAgeMs       int64

	index               []*indexEntry
	currentMemoryUsage  int64
	evictedCount        int64

	now func() time.Time

	stopSweep chan struct{}
}

// New creates a Store bounded by maxMemoryBytes, tombstoning entries older
// than maxAgeMs (0 disables age-based eviction), backed by collaborator
// for inbox-visible storage.
func New(collaborator inbox.Collaborator, maxMemoryBytes, maxAgeMs int64) *Store {
	s := &Store{
		inbox:          collaborator,
		maxMemoryBytes: maxMemoryBytes,
		maxAgeMs:       maxAgeMs,
		now:            time.Now,
		stopSweep:      make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweep goroutines.
func (s *Store) Close() {
	close(s.stopSweep)
}

// Store implements spec §4.8's store(inbox_key, message_id, payloads)
// operation.
func (s *Store) Store(inboxKey string, message StoredMessage) error {
	size := int64(message.size())

	s.mu.Lock()
	defer s.mu.Unlock()

	if size > s.maxMemoryBytes {
		return &gwerrors.SizeExceeded{Limit: s.maxMemoryBytes}
	}

	for s.currentMemoryUsage+size > s.maxMemoryBytes {
		victim := s.oldestLiveEntryLocked()
		if victim == nil {
			return &gwerrors.StoreFullUnableToEvict{}
		}
		s.evictLocked(victim)
	}

	if err := s.inbox.AddEmail(inboxKey, message); err != nil {
		return fmt.Errorf("emailstore: add email to inbox: %w", err)
	}

	s.index = append(s.index, &indexEntry{
		messageID:  message.ID,
		inboxKey:   inboxKey,
		size:       int(size),
		receivedAt: s.now(),
	})
	s.currentMemoryUsage += size
	return nil
}

// oldestLiveEntryLocked returns the oldest non-tombstoned entry, or nil if
// none exists. Callers must hold s.mu.
func (s *Store) oldestLiveEntryLocked() *indexEntry {
	for _, e := range s.index {
		if !e.tombstone {
			return e
		}
	}
	return nil
}

// evictLocked tombstones e, removing its message from inbox-visible
// storage and accounting for its size. Callers must hold s.mu.
func (s *Store) evictLocked(e *indexEntry) {
	if err := s.inbox.EvictEmail(e.inboxKey, e.messageID); err != nil {
		logging.WarnLog("emailstore: evict %s/%s from inbox failed, tombstoning anyway: %v", utils.HashEmail(e.inboxKey), e.messageID, err)
	}
	e.tombstone = true
	s.currentMemoryUsage -= int64(e.size)
	s.evictedCount++
}

// OnEmailDeleted implements spec §4.8's on_email_deleted: removes the
// index entry entirely (a user-initiated deletion, not a tombstone).
func (s *Store) OnEmailDeleted(inboxKey, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.index {
		if e.inboxKey == inboxKey && e.messageID == messageID {
			if !e.tombstone {
				s.currentMemoryUsage -= int64(e.size)
			}
			s.index = append(s.index[:i], s.index[i+1:]...)
			return
		}
	}
}

// OnInboxDeleted implements spec §4.8's on_inbox_deleted: removes every
// entry for inboxKey, subtracting non-tombstoned sizes.
func (s *Store) OnInboxDeleted(inboxKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.index[:0]
	for _, e := range s.index {
		if e.inboxKey == inboxKey {
			if !e.tombstone {
				s.currentMemoryUsage -= int64(e.size)
			}
			continue
		}
		kept = append(kept, e)
	}
	s.index = kept
}

const sweepInterval = time.Hour

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.compact()
			s.ageSweep()
		}
	}
}

// compact drops tombstoned entries from the index (spec §4.8's hourly
// compaction sweep).
func (s *Store) compact() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.index[:0]
	for _, e := range s.index {
		if !e.tombstone {
			kept = append(kept, e)
		}
	}
	s.index = kept
}

// ageSweep tombstones every non-tombstoned entry older than maxAgeMs (spec
// §4.8's hourly age sweep; a no-op when maxAgeMs is 0).
func (s *Store) ageSweep() {
	if s.maxAgeMs <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-time.Duration(s.maxAgeMs) * time.Millisecond)
	for _, e := range s.index {
		if !e.tombstone && e.receivedAt.Before(cutoff) {
			s.evictLocked(e)
		}
	}
}

// Snapshot is the metrics snapshot object spec §4.8 names.
type Snapshot struct {
	ConfiguredMemoryBytes int64
	UsedMemoryBytes       int64
	AvailableMemoryBytes  int64
	UtilizationPercent    float64
	TotalStored           int64
	TotalEvicted          int64
	TombstoneCount        int64
	OldestAgeMs           *int64
	NewestAgeMs           *int64
	MaxAgeMs              int64
}

// Snapshot computes the current metrics snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ConfiguredMemoryBytes: s.maxMemoryBytes,
		UsedMemoryBytes:       s.currentMemoryUsage,
		AvailableMemoryBytes:  s.maxMemoryBytes - s.currentMemoryUsage,
		TotalEvicted:          s.evictedCount,
		MaxAgeMs:              s.maxAgeMs,
	}
	if s.maxMemoryBytes > 0 {
		snap.UtilizationPercent = float64(s.currentMemoryUsage) / float64(s.maxMemoryBytes) * 100
	}

	now := s.now()
	var oldest, newest *time.Time
	for _, e := range s.index {
		if e.tombstone {
			snap.TombstoneCount++
			continue
		}
		snap.TotalStored++
		t := e.receivedAt
		if oldest == nil || t.Before(*oldest) {
			oldest = &t
		}
		if newest == nil || t.After(*newest) {
			newest = &t
		}
	}
	if oldest != nil {
		ms := now.Sub(*oldest).Milliseconds()
		snap.OldestAgeMs = &ms
	}
	if newest != nil {
		ms := now.Sub(*newest).Milliseconds()
		snap.NewestAgeMs = &ms
	}
	return snap
}
