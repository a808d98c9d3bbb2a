// Package api serves the orchestrator's HTTP, WebSocket and metrics
// endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/SentientLock/internal/channel"
	"github.com/AaronLay10/SentientLock/internal/events"
	"github.com/AaronLay10/SentientLock/internal/lock"
	"github.com/AaronLay10/SentientLock/internal/logging"
	"github.com/AaronLay10/SentientLock/internal/mqtt"
	"github.com/AaronLay10/SentientLock/internal/orchestrator"
	"github.com/AaronLay10/SentientLock/internal/storage/postgres"
)

// readinessState tracks the dependencies reported by /ready and /metrics.
type readinessState struct {
	mu                sync.RWMutex
	orchestratorReady bool
	mqttConnected     bool
	postgresConnected bool
}

var readiness = &readinessState{}

// SetOrchestratorReady marks the host replica restored and running.
func SetOrchestratorReady(v bool) {
	readiness.mu.Lock()
	readiness.orchestratorReady = v
	readiness.mu.Unlock()
}

// SetMQTTConnected records the broker connection state.
func SetMQTTConnected(v bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = v
	readiness.mu.Unlock()
}

// SetPostgresConnected records the database connection state.
func SetPostgresConnected(v bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = v
	readiness.mu.Unlock()
}

func readinessSnapshot() (orch, mqttOK, pg bool) {
	readiness.mu.RLock()
	defer readiness.mu.RUnlock()
	return readiness.orchestratorReady, readiness.mqttConnected, readiness.postgresConnected
}

// Server is the orchestrator HTTP surface.
type Server struct {
	host    *orchestrator.Host
	monitor *mqtt.Monitor
	history EventHistory
	metrics *Metrics
	logger  *zap.SugaredLogger
}

// NewServer creates a server for host.
func NewServer(host *orchestrator.Host, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Server{
		host:   host,
		logger: logger,
	}
	s.metrics = NewMetrics(host)
	return s
}

// SetMonitor exposes peer presence on /peers.
func (s *Server) SetMonitor(m *mqtt.Monitor) {
	s.monitor = m
}

// EventHistory reads persisted events, newest first.
type EventHistory interface {
	QueryEvents(ctx context.Context, limit int) ([]postgres.EventRow, error)
}

// SetHistory serves persisted events on /admin/events.
func (s *Server) SetHistory(h EventHistory) {
	s.history = h
}

// Metrics returns the server's metric set.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", uiHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/events", eventsHandler)
	mux.HandleFunc("/puzzles", s.puzzlesHandler)
	mux.HandleFunc("/puzzles/{id}", s.puzzleHandler)
	mux.HandleFunc("/peers", s.peersHandler)
	mux.HandleFunc("/log", s.logHandler)
	mux.HandleFunc("/log/head", s.logHeadHandler)
	mux.HandleFunc("/calls", s.callsHandler)
	mux.HandleFunc("/operator/puzzles", RequireAnyRole(s.operatorPuzzlesHandler))
	mux.HandleFunc("/operator/override", RequireAnyRole(s.operatorOverrideHandler))
	mux.HandleFunc("/operator/close", RequireAnyRole(s.operatorCloseHandler))
	mux.HandleFunc("/admin/events", RequireAdmin(s.historyHandler))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/ws/events", wsEventsHandler)
	mux.HandleFunc("/ws/log", s.wsLogHandler)
	return mux
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "orchestrator",
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	writeJSON(w, http.StatusOK, resp)
}

type ReadyResponse struct {
	Ready        bool `json:"ready"`
	Orchestrator bool `json:"orchestrator"`
	MQTT         bool `json:"mqtt"`
	Postgres     bool `json:"postgres"`
}

// readyHandler reports 200 once the host replica is running. MQTT and
// Postgres are informational: peers can fall back to HTTP and the log can
// run in memory.
func readyHandler(w http.ResponseWriter, r *http.Request) {
	orch, mqttOK, pg := readinessSnapshot()
	status := http.StatusOK
	if !orch {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, ReadyResponse{Ready: orch, Orchestrator: orch, MQTT: mqttOK, Postgres: pg})
}

// eventsHandler returns buffered events, optionally limited with ?limit=N
// and filtered with ?prefix=.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events.RecentEvents(limit, eventFilter(r)))
}

// historyHandler returns events from PostgreSQL, which outlive the
// in-memory buffer.
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "event history requires postgres")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.history.QueryEvents(r.Context(), limit)
	if err != nil {
		s.logger.Warnw("event history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event history unavailable")
		return
	}
	if rows == nil {
		rows = []postgres.EventRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func (s *Server) puzzlesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.host.Runtime().Snapshot(false))
}

func (s *Server) puzzleHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st, ok := s.host.Runtime().Status(r.PathValue("id"), false)
	if !ok {
		writeError(w, http.StatusNotFound, "puzzle not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) operatorPuzzlesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.host.Runtime().Snapshot(true))
}

type PeersResponse struct {
	Peers  []mqtt.PeerState  `json:"peers"`
	Roster []mqtt.Assignment `json:"roster"`
}

func (s *Server) peersHandler(w http.ResponseWriter, r *http.Request) {
	resp := PeersResponse{Peers: []mqtt.PeerState{}, Roster: []mqtt.Assignment{}}
	if s.monitor != nil {
		if peers := s.monitor.ConnectedPeers(); peers != nil {
			resp.Peers = peers
		}
		resp.Roster = s.monitor.Roster().All()
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseFrom reads the from query parameter; missing means the beginning.
func parseFrom(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		return 1, nil
	}
	from, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid from: %q", raw)
	}
	return from, nil
}

func (s *Server) logHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	from, err := parseFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.host.Log().Since(from))
}

type HeadResponse struct {
	Seq uint64 `json:"seq"`
}

func (s *Server) logHeadHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HeadResponse{Seq: s.host.Log().Len()})
}

type CallResponse struct {
	OK        bool           `json:"ok"`
	Entry     *channel.Entry `json:"entry,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// callsHandler is the HTTP fallback of the MQTT submit topic.
func (s *Server) callsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, CallResponse{Error: "method not allowed"})
		return
	}

	var call channel.Call
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		writeJSON(w, http.StatusBadRequest, CallResponse{Error: "invalid JSON"})
		return
	}

	start := time.Now()
	e, err := s.host.Submit(r.Context(), call)
	s.metrics.ObserveSubmit(time.Since(start), err)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CallResponse{OK: true, Entry: &e})
	case errors.Is(err, channel.ErrDuplicate):
		writeJSON(w, http.StatusOK, CallResponse{OK: true, Entry: &e, Duplicate: true})
	default:
		writeJSON(w, statusFor(err), CallResponse{Error: err.Error()})
	}
}

// statusFor maps sequencer errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lock.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrUnknownPuzzle):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidCall):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type OperatorRequest struct {
	PuzzleID string `json:"puzzle_id"`
}

type OperatorResponse struct {
	OK    bool   `json:"ok"`
	Seq   uint64 `json:"seq,omitempty"`
	Error string `json:"error,omitempty"`
}

func (s *Server) operatorOverrideHandler(w http.ResponseWriter, r *http.Request) {
	s.operatorAction(w, r, s.host.Override)
}

func (s *Server) operatorCloseHandler(w http.ResponseWriter, r *http.Request) {
	s.operatorAction(w, r, s.host.CloseLock)
}

func (s *Server) operatorAction(w http.ResponseWriter, r *http.Request, do func(context.Context, string, string) (channel.Entry, error)) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, OperatorResponse{Error: "method not allowed"})
		return
	}

	var req OperatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, OperatorResponse{Error: "invalid JSON"})
		return
	}

	if req.PuzzleID == "" {
		writeJSON(w, http.StatusBadRequest, OperatorResponse{Error: "puzzle_id required"})
		return
	}

	e, err := do(r.Context(), req.PuzzleID, operatorName(r))
	if err != nil {
		writeJSON(w, statusFor(err), OperatorResponse{Error: err.Error()})
		return
	}

	s.logger.Infow("operator call", "puzzle_id", req.PuzzleID, "call", e.Call.Action, "seq", e.Seq, "operator", operatorName(r))
	writeJSON(w, http.StatusOK, OperatorResponse{OK: true, Seq: e.Seq})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully. TLS is used when InitTLS found a certificate.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	tlsCfg, err := tlsSettings.ServerConfig()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("API listening", "addr", srv.Addr, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events.CloseAllSubscribers()
		return srv.Shutdown(shutdownCtx)
	}
}
