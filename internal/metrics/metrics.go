// Package metrics implements the gateway's metrics sink as a closed
// Collector interface — spec §9's redesign flag replaces the original
// dotted-string dispatch ("a fixed compile-time enumeration of metric
// identifiers with a closed sink interface; unknown identifiers are a type
// error, not a runtime warning") with one method per metric. The interface
// shape and the split between a pluggable Collector and a concrete
// Prometheus-backed implementation are grounded on
// infodancer-pop3d/internal/metrics/{metrics,prometheus}.go.
package metrics

import "time"

// Collector is the full set of observations the gateway core records
// (spec §6's metrics enumeration).
type Collector interface {
	ConnectionOpened()
	ConnectionClosed()
	ConnectionRejected()

	InvalidCommandRejected()
	SenderRejected()
	RecipientRejected()
	DataSizeRejected()
	HardModeRejected()
	RateLimitRejected()

	AuthResult(check string, result string)

	SpamAnalyzed()
	SpamSkipped()
	SpamError()
	SpamDetected()
	SpamProcessingTime(d time.Duration)

	StorageSnapshot(s StorageGauges)

	ChaosEvent()
	ChaosLatencyInjected(d time.Duration)
	ChaosErrorReturned()
	ChaosConnectionDropped()
	ChaosGreylistRejection()
	ChaosBlackhole()
}

// StorageGauges mirrors the gauge set spec §4.8 names: configured/used
// memory, utilization, counts, and age extremes of the in-memory store.
type StorageGauges struct {
	ConfiguredMemoryBytes int64
	UsedMemoryBytes       int64
	UtilizationPercent    float64
	TotalStored           int64
	TotalEvicted          int64
	TombstoneCount        int64
	OldestAgeMs           *int64
	NewestAgeMs           *int64
	MaxAgeMs              int64
}
