package api

import (
	"bastion/core"
	"net/http"
	"strconv"
	"time"
)

type statusResponse struct {
	RunID  string            `json:"run_id,omitempty"`
	Counts core.StatusCounts `json:"counts"`
	Time   string            `json:"time"`
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := a.store.HealthCheck(r.Context()); err != nil {
		a.logger.Warnw("Health check failed", "error", err)
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, a.logger)
}

func (a *API) getStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := a.store.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to read status", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		RunID:  a.runID,
		Counts: counts,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}, a.logger)
}

func (a *API) getSystemEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	events, err := a.store.RecentSystemEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to read system events", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, events, a.logger)
}

func (a *API) getAttackEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	events, err := a.store.RecentAttackEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to read attack events", err, a.logger)
		return
	}
	writeJSON(w, http.StatusOK, events, a.logger)
}

// parseLimit reads ?limit=, defaulting to 50 and capping at 500
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errInvalidLimit
	}
	if n > maxEventLimit {
		n = maxEventLimit
	}
	return n, nil
}
