package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetRun returns the run state and per-entity tallies.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Run.Snapshot())
}

// GetRunLogs returns log lines from ?offset= onwards.
func (s *Server) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	offset, err := parseOffset(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines := s.Run.LogsSince(offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"offset": offset,
		"next":   offset + len(lines),
		"lines":  lines,
	})
}

var errInvalidOffset = errors.New("offset must be a non-negative integer")

func parseOffset(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errInvalidOffset
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
