package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector with a fixed set of registered
// Prometheus metrics, following
// infodancer-pop3d/internal/metrics/prometheus.go's one-field-per-metric
// layout and NewXCollector(reg)/MustRegister construction.
type PrometheusCollector struct {
	connectionsTotal    prometheus.Counter
	connectionsActive   prometheus.Gauge
	connectionsRejected prometheus.Counter

	invalidCommandRejections prometheus.Counter
	senderRejections         prometheus.Counter
	recipientRejections      prometheus.Counter
	dataSizeRejections       prometheus.Counter
	hardModeRejections       prometheus.Counter
	rateLimitRejections      prometheus.Counter

	authResultsTotal *prometheus.CounterVec

	spamAnalyzed       prometheus.Counter
	spamSkipped        prometheus.Counter
	spamErrors         prometheus.Counter
	spamDetected       prometheus.Counter
	spamProcessingTime prometheus.Histogram

	storageConfiguredBytes prometheus.Gauge
	storageUsedBytes       prometheus.Gauge
	storageUtilization     prometheus.Gauge
	storageTotalStored     prometheus.Gauge
	storageTotalEvicted    prometheus.Gauge
	storageTombstoneCount  prometheus.Gauge
	storageOldestAgeMs     prometheus.Gauge
	storageNewestAgeMs     prometheus.Gauge
	storageMaxAgeMs        prometheus.Gauge

	chaosEvents             prometheus.Counter
	chaosLatencyInjectedMs  prometheus.Histogram
	chaosErrorsReturned     prometheus.Counter
	chaosConnectionsDropped prometheus.Counter
	chaosGreylistRejections prometheus.Counter
	chaosBlackhole          prometheus.Counter
}

// NewPrometheusCollector creates a PrometheusCollector with all metrics
// registered against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of SMTP connections accepted.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Number of currently open SMTP connections.",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_rejected_total",
			Help: "Total number of connections rejected before a session was established.",
		}),

		invalidCommandRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rejections_invalid_command_total",
			Help: "Total rejections due to a disabled or unrecognized SMTP command.",
		}),
		senderRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rejections_sender_total",
			Help: "Total MAIL FROM rejections.",
		}),
		recipientRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rejections_recipient_total",
			Help: "Total RCPT TO rejections.",
		}),
		dataSizeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rejections_data_size_total",
			Help: "Total rejections due to message size exceeding the configured limit.",
		}),
		hardModeRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rejections_hard_mode_total",
			Help: "Total rejections issued while hard mode is active.",
		}),
		rateLimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rejections_rate_limit_total",
			Help: "Total rejections due to rate limiting.",
		}),

		authResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_auth_results_total",
			Help: "Total SPF/DKIM/DMARC check outcomes.",
		}, []string{"check", "result"}),

		spamAnalyzed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_spam_analyzed_total",
			Help: "Total messages that completed spam analysis.",
		}),
		spamSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_spam_skipped_total",
			Help: "Total messages for which spam analysis was skipped.",
		}),
		spamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_spam_errors_total",
			Help: "Total spam analysis failures.",
		}),
		spamDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_spam_detected_total",
			Help: "Total messages flagged as spam.",
		}),
		spamProcessingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_spam_processing_time_ms",
			Help:    "Spam analysis processing time in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),

		storageConfiguredBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_configured_memory_bytes",
			Help: "Configured maximum store memory in bytes.",
		}),
		storageUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_used_memory_bytes",
			Help: "Used store memory in bytes.",
		}),
		storageUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_utilization_percent",
			Help: "Store memory utilization as a percentage.",
		}),
		storageTotalStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_total_stored",
			Help: "Number of non-tombstoned messages currently stored.",
		}),
		storageTotalEvicted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_total_evicted",
			Help: "Cumulative number of messages evicted.",
		}),
		storageTombstoneCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_tombstone_count",
			Help: "Number of tombstoned index entries.",
		}),
		storageOldestAgeMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_oldest_age_ms",
			Help: "Age in milliseconds of the oldest stored message, or -1 if empty.",
		}),
		storageNewestAgeMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_newest_age_ms",
			Help: "Age in milliseconds of the newest stored message, or -1 if empty.",
		}),
		storageMaxAgeMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_store_max_age_ms",
			Help: "Configured maximum message age in milliseconds.",
		}),

		chaosEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_chaos_events_total",
			Help: "Total chaos entries that fired.",
		}),
		chaosLatencyInjectedMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_chaos_latency_injected_ms",
			Help:    "Latency injected by chaos delay actions, in milliseconds.",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		}),
		chaosErrorsReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_chaos_errors_returned_total",
			Help: "Total SMTP errors returned by chaos entries.",
		}),
		chaosConnectionsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_chaos_connections_dropped_total",
			Help: "Total connections dropped by chaos entries.",
		}),
		chaosGreylistRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_chaos_greylist_rejections_total",
			Help: "Total greylist rejections issued by chaos entries.",
		}),
		chaosBlackhole: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_chaos_blackhole_total",
			Help: "Total messages accepted then silently dropped by chaos entries.",
		}),
	}

	reg.MustRegister(
		c.connectionsTotal, c.connectionsActive, c.connectionsRejected,
		c.invalidCommandRejections, c.senderRejections, c.recipientRejections,
		c.dataSizeRejections, c.hardModeRejections, c.rateLimitRejections,
		c.authResultsTotal,
		c.spamAnalyzed, c.spamSkipped, c.spamErrors, c.spamDetected, c.spamProcessingTime,
		c.storageConfiguredBytes, c.storageUsedBytes, c.storageUtilization,
		c.storageTotalStored, c.storageTotalEvicted, c.storageTombstoneCount,
		c.storageOldestAgeMs, c.storageNewestAgeMs, c.storageMaxAgeMs,
		c.chaosEvents, c.chaosLatencyInjectedMs, c.chaosErrorsReturned,
		c.chaosConnectionsDropped, c.chaosGreylistRejections, c.chaosBlackhole,
	)

	return c
}

func (c *PrometheusCollector) ConnectionOpened() {
	c.connectionsTotal.Inc()
	c.connectionsActive.Inc()
}

func (c *PrometheusCollector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

func (c *PrometheusCollector) ConnectionRejected() {
	c.connectionsRejected.Inc()
}

func (c *PrometheusCollector) InvalidCommandRejected() { c.invalidCommandRejections.Inc() }
func (c *PrometheusCollector) SenderRejected()         { c.senderRejections.Inc() }
func (c *PrometheusCollector) RecipientRejected()      { c.recipientRejections.Inc() }
func (c *PrometheusCollector) DataSizeRejected()       { c.dataSizeRejections.Inc() }
func (c *PrometheusCollector) HardModeRejected()       { c.hardModeRejections.Inc() }
func (c *PrometheusCollector) RateLimitRejected()      { c.rateLimitRejections.Inc() }

func (c *PrometheusCollector) AuthResult(check string, result string) {
	c.authResultsTotal.WithLabelValues(check, result).Inc()
}

func (c *PrometheusCollector) SpamAnalyzed() { c.spamAnalyzed.Inc() }
func (c *PrometheusCollector) SpamSkipped()  { c.spamSkipped.Inc() }
func (c *PrometheusCollector) SpamError()    { c.spamErrors.Inc() }
func (c *PrometheusCollector) SpamDetected() { c.spamDetected.Inc() }
func (c *PrometheusCollector) SpamProcessingTime(d time.Duration) {
	c.spamProcessingTime.Observe(float64(d.Milliseconds()))
}

func (c *PrometheusCollector) StorageSnapshot(s StorageGauges) {
	c.storageConfiguredBytes.Set(float64(s.ConfiguredMemoryBytes))
	c.storageUsedBytes.Set(float64(s.UsedMemoryBytes))
	c.storageUtilization.Set(s.UtilizationPercent)
	c.storageTotalStored.Set(float64(s.TotalStored))
	c.storageTotalEvicted.Set(float64(s.TotalEvicted))
	c.storageTombstoneCount.Set(float64(s.TombstoneCount))
	c.storageMaxAgeMs.Set(float64(s.MaxAgeMs))
	if s.OldestAgeMs != nil {
		c.storageOldestAgeMs.Set(float64(*s.OldestAgeMs))
	} else {
		c.storageOldestAgeMs.Set(-1)
	}
	if s.NewestAgeMs != nil {
		c.storageNewestAgeMs.Set(float64(*s.NewestAgeMs))
	} else {
		c.storageNewestAgeMs.Set(-1)
	}
}

func (c *PrometheusCollector) ChaosEvent() { c.chaosEvents.Inc() }
func (c *PrometheusCollector) ChaosLatencyInjected(d time.Duration) {
	c.chaosLatencyInjectedMs.Observe(float64(d.Milliseconds()))
}
func (c *PrometheusCollector) ChaosErrorReturned()     { c.chaosErrorsReturned.Inc() }
func (c *PrometheusCollector) ChaosConnectionDropped() { c.chaosConnectionsDropped.Inc() }
func (c *PrometheusCollector) ChaosGreylistRejection() { c.chaosGreylistRejections.Inc() }
func (c *PrometheusCollector) ChaosBlackhole()         { c.chaosBlackhole.Inc() }
