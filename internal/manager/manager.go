// Package manager groups the gateway's background worker pools. The
// teacher's WorkManager split {db, crypto, smtp} pools to isolate heavy
// work from request handlers; this repo has no database and no HTTP
// handlers, so the pools are named after the suspension points spec §5
// names for background work: crypto (the per-AAD encrypt_for_client
// calls), notify (webhook delivery), and sweep (the email store's
// compaction/age sweeps). Only the notify pool has a caller, the webhook
// notification in internal/delivery; encryption runs inline in delivery,
// and the email store runs its sweeps on its own goroutine.
package manager

import (
	"context"
	"time"

	"github.com/vaultsandbox/gateway/internal/workerpool"
)

// WorkManager owns the gateway's background worker pools.
type WorkManager struct {
	crypto *workerpool.Pool
	notify *workerpool.Pool
	sweep  *workerpool.Pool
}

// Option configures a WorkManager.
type Option func(*options)

type options struct {
	cryptoWorkers int
	notifyWorkers int
	sweepWorkers  int
	queueSize     int
}

func WithCryptoWorkers(n int) Option { return func(o *options) { o.cryptoWorkers = n } }
func WithNotifyWorkers(n int) Option { return func(o *options) { o.notifyWorkers = n } }
func WithSweepWorkers(n int) Option  { return func(o *options) { o.sweepWorkers = n } }
func WithQueueSize(n int) Option     { return func(o *options) { o.queueSize = n } }

// defaultQueueSize mirrors the teacher's WorkManager default sizing: small,
// bounded queues per pool rather than unbounded channels.
const defaultQueueSize = 64

// New constructs a WorkManager. Sensible defaults apply when an option is
// not supplied: 4 crypto workers, 2 notify workers, 1 sweep worker.
func New(opts ...Option) *WorkManager {
	o := &options{
		cryptoWorkers: 4,
		notifyWorkers: 2,
		sweepWorkers:  1,
		queueSize:     defaultQueueSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &WorkManager{
		crypto: workerpool.New("crypto", o.cryptoWorkers, o.queueSize),
		notify: workerpool.New("notify", o.notifyWorkers, o.queueSize),
		sweep:  workerpool.New("sweep", o.sweepWorkers, o.queueSize),
	}
}

// Close shuts down all pools.
func (m *WorkManager) Close() {
	if m == nil {
		return
	}
	m.crypto.Close()
	m.notify.Close()
	m.sweep.Close()
}

// SubmitCrypto schedules an encrypt_for_client invocation.
func (m *WorkManager) SubmitCrypto(fn func(ctx context.Context)) error {
	return m.crypto.Submit(fn)
}

// SubmitNotify schedules a webhook delivery.
func (m *WorkManager) SubmitNotify(fn func(ctx context.Context)) error {
	return m.notify.Submit(fn)
}

// SubmitSweep schedules a store-sweep task.
func (m *WorkManager) SubmitSweep(fn func(ctx context.Context)) error {
	return m.sweep.Submit(fn)
}

// RunWithTimeout runs fn bounded by d, returning whether it completed
// before the deadline.
func RunWithTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context)) bool {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	done := make(chan struct{})
	go func() { fn(ctx); close(done) }()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
