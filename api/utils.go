package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnw("Failed to encode response", "error", err)
	}
}

// writeError logs the full error and sends only message to the client
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if err != nil {
		logger.Errorw(message, "error", err, "status_code", statusCode)
	} else {
		logger.Debugw(message, "status_code", statusCode)
	}
	writeJSON(w, statusCode, map[string]string{"error": message}, logger)
}
