// Package api exposes the decision engine over HTTP. Authentication is a
// collaborator's job: this layer only reads the already resolved caller
// identity from the X-Subject header, and an absent header means anonymous.
//
// Besides the request/response endpoints, /ws streams every completed
// decision to connected clients for live monitoring.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"fintech-approve/internal/audit"
	"fintech-approve/internal/engine"
	"fintech-approve/internal/feature"
	"fintech-approve/internal/metrics"
	"fintech-approve/internal/model"
	"fintech-approve/internal/policy"
)

const subjectHeader = "X-Subject"

// Server serves the decision API and the live decision stream.
type Server struct {
	engine  *engine.Engine
	server  *http.Server
	metrics *metrics.Metrics

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	broadcast chan audit.Record
	stop      chan struct{}
}

func NewServer(eng *engine.Engine, addr string, mx *metrics.Metrics) *Server {
	s := &Server{
		engine:    eng,
		metrics:   mx,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan audit.Record, 100),
		stop:      make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/predict", s.handlePredict).Methods("POST")
	r.HandleFunc("/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws", s.handleDecisionStream).Methods("GET")

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	eng.OnDecision(s.enqueueDecision)
	return s
}

// Handler returns the configured router, for tests that drive the API with
// httptest.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the broadcaster and serves until Stop or a listener error.
func (s *Server) Start() error {
	go s.clientBroadcaster()
	log.Info().Str("addr", s.server.Addr).Msg("decision API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and disconnects stream clients.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stop)

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.clientsMu.Unlock()

	return s.server.Shutdown(ctx)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var app feature.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		var schemaErr *feature.SchemaError
		if errors.As(err, &schemaErr) {
			if s.metrics != nil {
				s.metrics.SchemaErrors.Inc()
			}
			writeError(w, http.StatusBadRequest, schemaErr.Reason, schemaErr.Field)
			return
		}
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error(), "")
		return
	}

	subject := r.Header.Get(subjectHeader)
	resp, err := s.engine.Submit(r.Context(), app, subject)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	var schemaErr *feature.SchemaError
	if errors.As(err, &schemaErr) {
		writeError(w, http.StatusBadRequest, schemaErr.Reason, schemaErr.Field)
		return
	}

	var storageErr *audit.StorageError
	if errors.As(err, &storageErr) {
		log.Error().Err(err).Msg("audit-or-nothing request failed on storage")
		writeError(w, http.StatusServiceUnavailable, "decision audit unavailable", "")
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "decision timed out", "")
		return
	}

	// InferenceError and PolicyError are deployment integrity bugs; the
	// detail stays in the logs.
	var inferenceErr *model.InferenceError
	var policyErr *policy.PolicyError
	if errors.As(err, &inferenceErr) || errors.As(err, &policyErr) {
		log.Error().Err(err).Msg("pipeline integrity violation")
	} else {
		log.Error().Err(err).Msg("prediction failed")
	}
	writeError(w, http.StatusInternalServerError, "internal error", "")
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	records, err := s.engine.History(subject)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": subject,
		"records": records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		log.Error().Err(err).Msg("aggregate stats query failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleDecisionStream upgrades the connection and keeps it registered until
// the peer goes away. Writes happen only from the broadcaster goroutine.
func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade stream connection")
		return
	}
	defer conn.Close()

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.StreamClients.Inc()
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.clientsMu.Lock()
	delete(s.clients, conn)
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.StreamClients.Dec()
	}
}

// enqueueDecision hands a completed decision to the broadcaster without
// blocking the request path.
func (s *Server) enqueueDecision(rec audit.Record) {
	select {
	case s.broadcast <- rec:
	default:
		log.Warn().Msg("decision stream backlog full, dropping broadcast")
	}
}

func (s *Server) clientBroadcaster() {
	for {
		select {
		case rec := <-s.broadcast:
			s.broadcastToClients(rec)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) broadcastToClients(rec audit.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal decision for broadcast")
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}

type apiError struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, apiError{Error: msg, Field: field})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
