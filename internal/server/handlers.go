package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/db"
)

const (
	defaultSamplesK   = 60
	defaultAnomaliesK = 20
	defaultListLimit  = 50
	maxListLimit      = 500
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// queryInt reads an integer query parameter, falling back to def when absent
// or unparseable.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "hostpulse",
		"version":   Version,
		"state":     s.engine.State(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleLatestMetrics serves the most recent sample with its score, or 404
// before the first tick.
func (s *Server) handleLatestMetrics(w http.ResponseWriter, r *http.Request) {
	update, ok := s.engine.Latest()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no samples yet")
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	k := queryInt(r, "k", defaultSamplesK)
	if k < 1 {
		s.writeError(w, http.StatusBadRequest, "k must be positive")
		return
	}
	samples := s.engine.RecentSamples(k)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"samples": samples,
		"count":   len(samples),
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	k := queryInt(r, "k", defaultAnomaliesK)
	if k < 1 {
		s.writeError(w, http.StatusBadRequest, "k must be positive")
		return
	}
	anomalies := s.engine.RecentAnomalies(k)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	points := s.engine.ChartSeries()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"points": points,
		"count":  len(points),
	})
}

// handleStatus reports engine statistics plus the detector's fit history.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()
	detector := s.engine.DetectorStats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":          stats.State,
		"sample_count":   stats.SampleCount,
		"anomaly_count":  stats.AnomalyCount,
		"uptime_seconds": stats.UptimeSeconds,
		"detector": map[string]any{
			"state":         detector.State,
			"trained_at":    detector.TrainedAt,
			"fits":          detector.Fits,
			"window_size":   detector.WindowSize,
			"last_fit_rows": detector.LastFitRows,
		},
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	k := queryInt(r, "samples", 0)
	l := queryInt(r, "anomalies", 0)
	s.writeJSON(w, http.StatusOK, s.engine.Snapshot(k, l))
}

func (s *Server) handleAnalysesList(w http.ResponseWriter, r *http.Request) {
	if s.analyses == nil {
		s.writeError(w, http.StatusNotFound, "analysis history not configured")
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}

	list, err := s.analyses.ListAnalyses(r.Context(), limit)
	if err != nil {
		s.logger.Error("analysis listing failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "analysis listing failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"analyses": list,
		"count":    len(list),
	})
}

func (s *Server) handleAnalysisGet(w http.ResponseWriter, r *http.Request) {
	if s.analyses == nil {
		s.writeError(w, http.StatusNotFound, "analysis history not configured")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid analysis id")
		return
	}

	record, err := s.analyses.GetAnalysis(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		s.logger.Error("analysis lookup failed", zap.Int64("id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "analysis lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}
