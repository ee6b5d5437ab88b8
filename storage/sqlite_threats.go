package storage

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertThreatIndicator inserts the address or, when it is already known,
// overwrites its type, risk and last_seen and bumps attack_count by one.
// The whole operation is a single statement on the writer connection.
func (s *SQLite) UpsertThreatIndicator(ctx context.Context, ip, threatType string, riskScore int) error {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	now := formatTime(time.Now())
	_, err := s.WriteDB.ExecContext(ctx, `
		INSERT INTO threat_intel (ip_address, threat_type, risk_score, first_seen, last_seen, attack_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(ip_address) DO UPDATE SET
			threat_type = excluded.threat_type,
			risk_score = excluded.risk_score,
			last_seen = excluded.last_seen,
			attack_count = threat_intel.attack_count + 1`,
		ip, threatType, riskScore, now, now)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("upsert_threat_indicator").Inc()
		return classifyError("upsert threat indicator", err)
	}
	metrics.EventsRecorded.WithLabelValues("threat_intel").Inc()
	return nil
}

// FetchHighRiskIPs returns every address whose risk_score is at least threshold
func (s *SQLite) FetchHighRiskIPs(ctx context.Context, threshold int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	rows, err := s.ReadDB.QueryContext(ctx,
		`SELECT ip_address FROM threat_intel WHERE risk_score >= ?`, threshold)
	if err != nil {
		return nil, classifyError("fetch high risk ips", err)
	}
	defer rows.Close()

	ips := make([]string, 0)
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, classifyError("scan high risk ip", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError("iterate high risk ips", err)
	}
	return ips, nil
}

// GetThreatIndicator returns the stored indicator for ip
func (s *SQLite) GetThreatIndicator(ctx context.Context, ip string) (core.ThreatIndicator, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var (
		ti              core.ThreatIndicator
		first, lastSeen string
	)
	err := s.ReadDB.QueryRowContext(ctx, `
		SELECT ip_address, threat_type, risk_score, first_seen, last_seen, attack_count
		FROM threat_intel WHERE ip_address = ?`, ip).
		Scan(&ti.IPAddress, &ti.ThreatType, &ti.RiskScore, &first, &lastSeen, &ti.AttackCount)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ThreatIndicator{}, core.ErrNotFound
	}
	if err != nil {
		return core.ThreatIndicator{}, classifyError("get threat indicator", err)
	}
	ti.FirstSeen = parseTime(first)
	ti.LastSeen = parseTime(lastSeen)
	return ti, nil
}
