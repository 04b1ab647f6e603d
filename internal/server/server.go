// internal/server/server.go

// Package server exposes the monitoring pipeline over HTTP: transcript and
// SOS ingestion, mood history and alert feeds, and a WebSocket stream of
// live events per child.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/user/kidwatch/internal/bus"
	"github.com/user/kidwatch/internal/location"
	"github.com/user/kidwatch/internal/sos"
	"github.com/user/kidwatch/internal/types"
)

// Pipeline is the ingestion surface the server drives.
type Pipeline interface {
	Submit(t *types.Transcript) error
	StopSession(childID types.ChildID) int
	Watch(childID types.ChildID) *bus.Subscription
}

// Server handles the guardian and device HTTP API.
type Server struct {
	pipeline Pipeline
	sos      *sos.Handler
	location *location.Registry
	moods    types.MoodStore
	alerts   types.AlertStore
	messages types.MessageStore
	mux      *http.ServeMux
}

// NewServer creates the HTTP API server.
func NewServer(pipeline Pipeline, sosHandler *sos.Handler, loc *location.Registry, moods types.MoodStore, alerts types.AlertStore, messages types.MessageStore) *Server {
	s := &Server{
		pipeline: pipeline,
		sos:      sosHandler,
		location: loc,
		moods:    moods,
		alerts:   alerts,
		messages: messages,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/children/{id}/transcripts", s.handleIngest)
	s.mux.HandleFunc("POST /api/children/{id}/session/stop", s.handleStopSession)
	s.mux.HandleFunc("POST /api/children/{id}/sos", s.handleSOS)
	s.mux.HandleFunc("POST /api/children/{id}/location", s.handleReportLocation)
	s.mux.HandleFunc("GET /api/children/{id}/location", s.handleSOSLocation)
	s.mux.HandleFunc("GET /api/children/{id}/moods", s.handleMoods)
	s.mux.HandleFunc("GET /api/children/{id}/mood", s.handleLatestMood)
	s.mux.HandleFunc("GET /api/children/{id}/alerts", s.handleAlerts)
	s.mux.HandleFunc("POST /api/children/{id}/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /api/children/{id}/messages", s.handleMessages)
	s.mux.HandleFunc("GET /ws/children/{id}", s.handleWatch)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ingestRequest is the JSON body for POST /api/children/{id}/transcripts.
type ingestRequest struct {
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, `{"error":"text is required"}`, http.StatusBadRequest)
		return
	}

	t := &types.Transcript{
		ChildID:    childID,
		Text:       req.Text,
		CapturedAt: req.CapturedAt,
	}
	if err := s.pipeline.Submit(t); err != nil {
		slog.Warn("transcript rejected", "child_id", string(childID), "error", err)
		http.Error(w, `{"error":"queue full"}`, http.StatusTooManyRequests)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))
	dropped := s.pipeline.StopSession(childID)
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (s *Server) handleSOS(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	alert, err := s.sos.TriggerSOS(r.Context(), childID)
	if err != nil {
		switch {
		case errors.Is(err, sos.ErrLocationUnavailable):
			http.Error(w, `{"error":"location unavailable"}`, http.StatusServiceUnavailable)
		default:
			slog.Error("sos failed", "child_id", string(childID), "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// reportRequest is the JSON body for POST /api/children/{id}/location.
type reportRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		http.Error(w, `{"error":"coordinates out of range"}`, http.StatusBadRequest)
		return
	}

	s.location.Report(childID, req.Latitude, req.Longitude)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSOSLocation(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	details, err := s.alerts.LatestSOSLocation(r.Context(), childID)
	if err != nil {
		http.Error(w, `{"error":"no location on record"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleMoods(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.moods.RecentMoods(r.Context(), childID, limit)
	if err != nil {
		slog.Error("load moods failed", "child_id", string(childID), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*types.MoodLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLatestMood(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	entry, err := s.moods.LatestMood(r.Context(), childID)
	if err != nil {
		http.Error(w, `{"error":"no mood on record"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	alerts, err := s.alerts.RecentAlerts(r.Context(), childID, limit)
	if err != nil {
		slog.Error("load alerts failed", "child_id", string(childID), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if alerts == nil {
		alerts = []*types.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// messageRequest is the JSON body for POST /api/children/{id}/messages.
type messageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Sender == "" || req.Content == "" {
		http.Error(w, `{"error":"sender and content are required"}`, http.StatusBadRequest)
		return
	}

	msg := &types.Message{
		ID:        types.NewMessageID(),
		ChildID:   childID,
		Sender:    req.Sender,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	if err := s.messages.AppendMessage(r.Context(), msg); err != nil {
		slog.Error("store message failed", "child_id", string(childID), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	childID := types.ChildID(r.PathValue("id"))

	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := s.messages.RecentMessages(r.Context(), childID, limit)
	if err != nil {
		slog.Error("load messages failed", "child_id", string(childID), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
