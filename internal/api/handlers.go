package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"trustd/internal/anomaly"
	"trustd/internal/logger"
	"trustd/internal/session"
	"trustd/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTrainStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StartTraining()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "training_started",
		"session": sess,
	})
}

func (s *Server) handleTrainStop(w http.ResponseWriter, r *http.Request) {
	sess, eventCount, err := s.sessions.StopTraining()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "training_completed",
		"session":       sess,
		"events_count":  eventCount,
		"model_version": sess.ModelVersion,
	})
}

func (s *Server) handleTrainStatus(w http.ResponseWriter, r *http.Request) {
	sess, eventCount, active := s.sessions.TrainingStatus()
	if !active {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":       true,
		"session":      sess,
		"events_count": eventCount,
	})
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	sess, score, err := s.sessions.StartLive()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "live_started",
		"session":     sess,
		"trust_score": score,
	})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StopLive()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "live_stopped",
		"session": sess,
	})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	sess, active := s.sessions.LiveStatus()
	if !active {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":      true,
		"session":     sess,
		"trust_score": s.trust.Score(),
	})
}

func (s *Server) handleLiveTrust(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trust_score":        s.trust.Score(),
		"session_id":         s.trust.SessionID(),
		"history":            s.trust.History(limit),
		"pending_deductions": s.trust.PendingCount(),
	})
}

func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.trust.Stats())
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	anomalyID := chi.URLParam(r, "id")

	var req resolveRequest
	if r.Body != nil {
		// An empty or absent body is fine; resolution defaults to admin.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "admin"
	}

	record, result, err := s.pipe.ResolveAnomaly(anomalyID, req.ResolvedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "resolved",
		"anomaly": record,
		"trust":   result,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.trust.Reset()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reset",
		"trust_score": s.trust.Score(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("Failed to encode API response: %v", err)
	}
}

// writeError maps domain errors onto HTTP statuses: mode conflicts are
// 409, unmet preconditions are 400, unknown anomalies are 404.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrTrainingActive),
		errors.Is(err, session.ErrLiveActive),
		errors.Is(err, session.ErrStopInProgress):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrModelNotTrained),
		errors.Is(err, anomaly.ErrInsufficientData):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrAnomalyNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
