package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_events_recorded_total",
			Help: "Total number of rows written to the event store",
		},
		[]string{"table"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_store_errors_total",
			Help: "Total number of failed event store operations",
		},
		[]string{"operation"},
	)

	IntegrityScans = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_integrity_scans_total",
			Help: "Total number of completed integrity scans",
		},
	)

	IntegrityScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_integrity_scan_duration_seconds",
			Help:    "Time taken to walk and hash the watched paths",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)

	IntegrityDriftAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_integrity_drift_alerts_total",
			Help: "Total number of file drift alerts raised",
		},
	)

	HoneypotConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_honeypot_connections_total",
			Help: "Total number of connections accepted by honeypot listeners",
		},
		[]string{"handler"},
	)

	HoneypotRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_honeypot_rate_limited_total",
			Help: "Total number of honeypot connections dropped by the per-source limiter",
		},
		[]string{"handler"},
	)

	ThreatIndicatorsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_threat_indicators_ingested_total",
			Help: "Total number of threat indicators upserted from feeds",
		},
	)

	ThreatFeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_threat_feed_fetches_total",
			Help: "Total number of feed fetch attempts by outcome",
		},
		[]string{"outcome"},
	)

	MonitorAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_monitor_alerts_total",
			Help: "Total number of resource monitor findings",
		},
		[]string{"kind"},
	)

	FirewallRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_firewall_blocked_addresses",
			Help: "Number of addresses synced into the firewall chain",
		},
	)

	TaskPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_task_panics_total",
			Help: "Total number of panics recovered in supervised tasks",
		},
		[]string{"task"},
	)
)

// SQLite pool metrics, labelled by pool type (read or write)
var (
	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_sqlite_pool_open_connections",
			Help: "Number of established connections in the pool",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_sqlite_pool_in_use",
			Help: "Number of connections currently in use",
		},
		[]string{"pool"},
	)

	SQLitePoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_sqlite_pool_idle",
			Help: "Number of idle connections",
		},
		[]string{"pool"},
	)

	SQLitePoolMaxOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_sqlite_pool_max_open_connections",
			Help: "Configured maximum number of open connections",
		},
		[]string{"pool"},
	)

	SQLitePoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_sqlite_pool_wait_count_total",
			Help: "Total number of connections waited for",
		},
		[]string{"pool"},
	)
)
