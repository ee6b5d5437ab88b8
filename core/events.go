package core

import "time"

// SystemEvent is an operational or security log line. Rows are append-only.
type SystemEvent struct {
	ID        int64     `json:"id" yaml:"id"`
	EventType string    `json:"event_type" yaml:"event_type"`
	Payload   string    `json:"payload" yaml:"payload"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// AttackEvent is an observed malicious interaction. Rows are append-only.
type AttackEvent struct {
	ID             int64     `json:"id" yaml:"id"`
	AttackerIP     string    `json:"attacker_ip" yaml:"attacker_ip"`
	AttackType     string    `json:"attack_type" yaml:"attack_type"`
	TargetService  string    `json:"target_service" yaml:"target_service"`
	Payload        string    `json:"payload" yaml:"payload"`
	RiskScore      int       `json:"risk_score" yaml:"risk_score"`
	ResponseAction string    `json:"response_action" yaml:"response_action"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// ThreatIndicator is a known-bad IP address. One row per address.
type ThreatIndicator struct {
	IPAddress   string    `json:"ip_address" yaml:"ip_address"`
	ThreatType  string    `json:"threat_type" yaml:"threat_type"`
	RiskScore   int       `json:"risk_score" yaml:"risk_score"`
	FirstSeen   time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen    time.Time `json:"last_seen" yaml:"last_seen"`
	AttackCount int64     `json:"attack_count" yaml:"attack_count"`
}

// FileState is the observed state of a tracked file at scan time
type FileState struct {
	Path         string
	Hash         string
	Size         int64
	Permissions  string
	LastModified time.Time
}

// FileBaseline is the stored pair of digests for a tracked path.
// Baseline never changes after the record is created.
type FileBaseline struct {
	Baseline string
	Current  string
}

// StatusCounts summarises the store for the status command
type StatusCounts struct {
	ThreatIndicators int64 `json:"threat_indicators" yaml:"threat_indicators"`
	AttackEvents     int64 `json:"attack_events" yaml:"attack_events"`
	CriticalEvents   int64 `json:"critical_events" yaml:"critical_events"`
}
