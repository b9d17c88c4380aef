package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JoinsTotal tracks join requests by classification outcome.
	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_joins_total",
		Help: "Total join requests by admission outcome",
	}, []string{"outcome"}) // direct, enqueued, already_active, already_waiting

	// AdmissionsTotal tracks users entering the active batch by path.
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_admissions_total",
		Help: "Total users admitted to the active batch",
	}, []string{"mode"}) // direct, rotation, backfill

	// RotationsTotal tracks expired full batches being turned over.
	RotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_rotations_total",
		Help: "Total batch turnovers (expired full batch evicted)",
	})

	// QueueDepth tracks the live size of each event's lines.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitroom_queue_depth",
		Help: "Current number of users per event line",
	}, []string{"event", "line"}) // line: active, waiting

	// SchedulerTickDuration tracks the duration of one rotation pass.
	SchedulerTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waitroom_scheduler_tick_seconds",
		Help:    "Duration of one scheduler rotation pass",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// SchedulerSkips tracks ticks skipped while a store is in backoff.
	SchedulerSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_scheduler_skips_total",
		Help: "Scheduler ticks skipped due to store backoff",
	}, []string{"reason"}) // meta_backoff, queue_backoff

	// StoreUp tracks backing-store reachability as seen by the scheduler.
	StoreUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "waitroom_store_up",
		Help: "Backing store reachability (1 = reachable)",
	}, []string{"store"}) // queue, metadata

	// APIRateLimited tracks requests rejected by the rate limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "waitroom_api_rate_limited_total",
		Help: "API requests rejected by rate limiter (storm protection)",
	}, []string{"endpoint"}) // global, join, status, admin_read, admin_write

	// RedisLatency tracks queue-store operation roundtrip latency.
	RedisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "waitroom_redis_roundtrip_latency_seconds",
		Help:    "Queue store operation latency (admission spine health)",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
	})

	// EntryJournalFailures tracks dropped best-effort journal writes.
	EntryJournalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "waitroom_entry_journal_failures_total",
		Help: "Entry journal inserts that failed (best-effort, admission proceeds)",
	})

	// StreamClients tracks connected dashboard stream clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "waitroom_stream_clients",
		Help: "Current number of connected stats stream clients",
	})
)
