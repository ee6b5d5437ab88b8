package core

import "context"

// SystemEventRecorder is the write API most modules need
type SystemEventRecorder interface {
	RecordSystemEvent(ctx context.Context, eventType, payload string, severity Severity) error
}

// AttackEventRecorder records observed attacks
type AttackEventRecorder interface {
	RecordAttackEvent(ctx context.Context, event AttackEvent) error
}

// ThreatIndicatorStore ingests and queries known-bad addresses
type ThreatIndicatorStore interface {
	// UpsertThreatIndicator inserts the address with attack_count=1 or, on repeat
	// sight, overwrites threat type, risk and last_seen and increments attack_count.
	// It is not idempotent with respect to the count.
	UpsertThreatIndicator(ctx context.Context, ip, threatType string, riskScore int) error
	FetchHighRiskIPs(ctx context.Context, threshold int) ([]string, error)
}

// FileBaselineStore persists integrity baselines
type FileBaselineStore interface {
	// FetchFileBaseline returns ErrNotFound when the path has no record
	FetchFileBaseline(ctx context.Context, path string) (FileBaseline, error)
	// CreateFileRecord returns ErrDuplicateKey when the path already has a record
	CreateFileRecord(ctx context.Context, state FileState) error
	// UpdateFileHash changes current_hash and metadata, never baseline_hash
	UpdateFileHash(ctx context.Context, state FileState) error
}

// EventStore is the single persistence boundary for every module
type EventStore interface {
	SystemEventRecorder
	AttackEventRecorder
	ThreatIndicatorStore
	FileBaselineStore

	Counts(ctx context.Context) (StatusCounts, error)
	RecentSystemEvents(ctx context.Context, limit int) ([]SystemEvent, error)
	RecentAttackEvents(ctx context.Context, limit int) ([]AttackEvent, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
