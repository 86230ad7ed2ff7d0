// Package api exposes heatd's diagnostic and control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/heatd/internal/compensation"
	"github.com/dokzlo13/heatd/internal/ledger"
)

const historyLimit = 100

// Server serves room snapshots, control operations and observability
// endpoints.
type Server struct {
	manager *compensation.Manager
	ledger  *ledger.Ledger
	metrics http.Handler
	srv     *http.Server
}

// New creates the API server. The metrics handler may be nil; the endpoint
// then returns 404.
func New(host string, port int, manager *compensation.Manager, lg *ledger.Ledger, metrics http.Handler) *Server {
	s := &Server{
		manager: manager,
		ledger:  lg,
		metrics: metrics,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	r.HandleFunc("/api/rooms", s.handleListRooms).Methods("GET")
	r.HandleFunc("/api/rooms/{room}", s.handleGetRoom).Methods("GET")
	r.HandleFunc("/api/rooms/{room}/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/rooms/{room}/force", s.handleForce).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/reset-learning", s.handleResetLearning).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/preheat", s.handlePreheat).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/target", s.handleTarget).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/window-override", s.handleWindowOverride).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/compensation", s.handleCompensationEnabled).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/battery-saver", s.handleBatterySaver).Methods("POST")
	r.HandleFunc("/api/rooms/{room}/evaluate", s.handleEvaluate).Methods("POST")
	r.HandleFunc("/api/force", s.handleForce).Methods("POST")
	r.HandleFunc("/api/reset-learning", s.handleResetLearning).Methods("POST")
	r.HandleFunc("/api/evaluate", s.handleEvaluateAll).Methods("POST")

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      handlers.RecoveryHandler()(r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("API server starting")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, compensation.ErrUnknownRoom):
		status = http.StatusNotFound
	case errors.Is(err, compensation.ErrInvalidSchedule):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, compensation.ErrCoordinatorBusy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	// Ready once every configured room has been evaluated at least once
	for _, snap := range s.manager.Snapshots() {
		if snap.Evaluated.IsZero() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "starting",
				"room":   snap.Room,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Snapshots())
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	c, err := s.manager.Get(room)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if _, err := s.manager.Get(room); err != nil {
		writeError(w, err)
		return
	}
	if s.ledger == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	entries, err := s.ledger.GetByRoom(room, historyLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	type historyEntry struct {
		EventType string         `json:"event_type"`
		Timestamp time.Time      `json:"timestamp"`
		Payload   map[string]any `json:"payload,omitempty"`
	}
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			EventType: string(e.EventType),
			Timestamp: e.Timestamp,
			Payload:   e.Payload,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if err := s.manager.ForceCompensation(room); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleResetLearning(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if err := s.manager.ResetLearning(room); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handlePreheat(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	c, err := s.manager.Get(room)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		TargetTime time.Time `json:"target_time"`
		TargetTemp float64   `json:"target_temp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := c.SetPreheat(req.TargetTime, req.TargetTemp); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "armed"})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	c, err := s.manager.Get(room)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Temperature float64 `json:"temperature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := c.SetDesiredTemperature(req.Temperature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleWindowOverride(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	c, err := s.manager.Get(room)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Override bool `json:"override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := c.SetWindowOverride(req.Override); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// handleCompensationEnabled pauses or resumes a room's setpoint writes
// without stopping the daemon.
func (s *Server) handleCompensationEnabled(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	c, err := s.manager.Get(room)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := c.SetCompensationEnabled(req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleBatterySaver(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	c, err := s.manager.Get(room)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := c.SetBatterySaver(req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// handleEvaluate schedules a regular (non-forced) evaluation cycle, the same
// one the room's ticker runs. Useful to poke a room without bypassing the
// backoff gates.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	if err := s.manager.Evaluate(room); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleEvaluateAll(w http.ResponseWriter, _ *http.Request) {
	if err := s.manager.Evaluate(""); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
