package storage

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"fmt"
	"time"
)

// RecordSystemEvent appends one row to system_events
func (s *SQLite) RecordSystemEvent(ctx context.Context, eventType, payload string, severity core.Severity) error {
	if severity == "" {
		severity = core.SeverityInfo
	}
	if !severity.IsValid() {
		return fmt.Errorf("invalid severity %q", severity)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	_, err := s.WriteDB.ExecContext(ctx,
		`INSERT INTO system_events (event_type, event_data, severity, timestamp) VALUES (?, ?, ?, ?)`,
		eventType, payload, string(severity), formatTime(time.Now()))
	if err != nil {
		metrics.StoreErrors.WithLabelValues("record_system_event").Inc()
		return classifyError("record system event", err)
	}
	metrics.EventsRecorded.WithLabelValues("system_events").Inc()
	return nil
}

// RecordAttackEvent appends one row to attack_events. The payload is stored verbatim.
func (s *SQLite) RecordAttackEvent(ctx context.Context, event core.AttackEvent) error {
	action := event.ResponseAction
	if action == "" {
		action = core.DefaultResponseAction
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	_, err := s.WriteDB.ExecContext(ctx,
		`INSERT INTO attack_events (attacker_ip, attack_type, target_service, payload, risk_score, response_action, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.AttackerIP, event.AttackType, event.TargetService, event.Payload, event.RiskScore, action, formatTime(ts))
	if err != nil {
		metrics.StoreErrors.WithLabelValues("record_attack_event").Inc()
		return classifyError("record attack event", err)
	}
	metrics.EventsRecorded.WithLabelValues("attack_events").Inc()
	return nil
}

// RecentSystemEvents returns up to limit system events, newest first
func (s *SQLite) RecentSystemEvents(ctx context.Context, limit int) ([]core.SystemEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT id, event_type, event_data, severity, timestamp FROM system_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classifyError("query system events", err)
	}
	defer rows.Close()

	var events []core.SystemEvent
	for rows.Next() {
		var (
			e   core.SystemEvent
			sev string
			ts  string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &sev, &ts); err != nil {
			return nil, classifyError("scan system event", err)
		}
		e.Severity = core.Severity(sev)
		e.Timestamp = parseTime(ts)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate system events", err)
	}
	return events, nil
}

// RecentAttackEvents returns up to limit attack events, newest first
func (s *SQLite) RecentAttackEvents(ctx context.Context, limit int) ([]core.AttackEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT id, attacker_ip, attack_type, target_service, payload, risk_score, response_action, timestamp
		 FROM attack_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, classifyError("query attack events", err)
	}
	defer rows.Close()

	var events []core.AttackEvent
	for rows.Next() {
		var (
			e  core.AttackEvent
			ts string
		)
		if err := rows.Scan(&e.ID, &e.AttackerIP, &e.AttackType, &e.TargetService, &e.Payload, &e.RiskScore, &e.ResponseAction, &ts); err != nil {
			return nil, classifyError("scan attack event", err)
		}
		e.Timestamp = parseTime(ts)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate attack events", err)
	}
	return events, nil
}

// Counts returns the totals shown by the status command
func (s *SQLite) Counts(ctx context.Context) (core.StatusCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var counts core.StatusCounts
	err := s.ReadDB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM threat_intel),
			(SELECT COUNT(*) FROM attack_events),
			(SELECT COUNT(*) FROM system_events WHERE severity = ?)`,
		string(core.SeverityCritical)).Scan(&counts.ThreatIndicators, &counts.AttackEvents, &counts.CriticalEvents)
	if err != nil {
		return core.StatusCounts{}, classifyError("count records", err)
	}
	return counts, nil
}
