package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"brightdock/internal/clock"
	"brightdock/internal/device"
	"brightdock/internal/dispatch"
	"brightdock/internal/reconcile"
)

// overrideWait is how long an override request blocks on its outcome
// before answering 202; the command keeps executing either way.
const overrideWait = 2 * time.Second

// Server is the local status and control surface.
type Server struct {
	store      *reconcile.Store
	health     *reconcile.Health
	registry   *device.Registry
	dispatcher *dispatch.Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
	server     *http.Server
}

// NewServer builds the HTTP server on the given port.
func NewServer(
	store *reconcile.Store,
	health *reconcile.Health,
	registry *device.Registry,
	dispatcher *dispatch.Dispatcher,
	clk clock.Clock,
	logger *zap.Logger,
	port int,
) *Server {
	s := &Server{
		store:      store,
		health:     health,
		registry:   registry,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/devices", s.handleListDevices)
	mux.HandleFunc("/devices/", s.handleDevice)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// DeviceStatus is one device's entry in the status response.
type DeviceStatus struct {
	ID            string     `json:"id"`
	Value         *int       `json:"value"`
	LastError     string     `json:"lastError,omitempty"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	LastPollTime *time.Time     `json:"lastPollTime"`
	Devices      []DeviceStatus `json:"devices"`
	Health       string         `json:"health"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	healthSnap := s.health.Snapshot()
	resp := StatusResponse{Health: "ok"}
	if !healthSnap.LastPollTime.IsZero() {
		t := healthSnap.LastPollTime
		resp.LastPollTime = &t
	}
	if s.health.Degraded() || s.store.AnyFailing() {
		resp.Health = "degraded"
	}

	for _, state := range s.store.Snapshot() {
		entry := DeviceStatus{ID: state.ID, LastError: state.LastError}
		if state.Applied {
			value := state.LastApplied
			entry.Value = &value
		}
		if !state.LastSuccessAt.IsZero() {
			at := state.LastSuccessAt
			entry.LastSuccessAt = &at
		}
		resp.Devices = append(resp.Devices, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeviceInfo describes one binding in GET /devices.
type DeviceInfo struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	Node     string `json:"node"`
	Feature  string `json:"feature"`
	Min      int    `json:"min"`
	Max      int    `json:"max"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices := make([]DeviceInfo, 0)
	for _, b := range s.registry.Bindings() {
		devices = append(devices, DeviceInfo{
			ID:       b.ID,
			EntityID: b.EntityID,
			Node:     b.Node,
			Feature:  b.Feature,
			Min:      b.Min,
			Max:      b.Max,
		})
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleDevice routes /devices/{id} and /devices/{id}/override.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/devices/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleReadDevice(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "override":
		s.handleOverride(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleReadDevice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handle, err := s.registry.Acquire(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	value, err := handle.Read(ctx)
	if err != nil {
		s.logger.Warn("Device read failed",
			zap.String("device", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "value": value})
}

// OverrideRequest is the body of POST /devices/{id}/override.
type OverrideRequest struct {
	Value *int `json:"value"`
}

// OverrideResponse reports how an override ended, or that it is still
// pending.
type OverrideResponse struct {
	Status   string `json:"status"`
	Device   string `json:"device"`
	Value    int    `json:"value"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handle, err := s.registry.Acquire(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": <number>}")
		return
	}
	if err := handle.Validate(*req.Value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := dispatch.NewCommand(id, *req.Value, dispatch.OriginManual, s.clock.Now())
	s.logger.Info("Manual override submitted",
		zap.String("device", id), zap.Int("value", *req.Value))

	// Bounded wait only; on timeout the override completes in the
	// background and shows up in /status.
	outcomeCh := s.dispatcher.SubmitAsync(cmd)
	select {
	case outcome := <-outcomeCh:
		resp := OverrideResponse{
			Status:   string(outcome.Kind),
			Device:   id,
			Value:    *req.Value,
			Attempts: outcome.Attempts,
		}
		if outcome.Err != nil {
			resp.Error = outcome.Err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	case <-s.clock.After(overrideWait):
		writeJSON(w, http.StatusAccepted, OverrideResponse{
			Status: "pending",
			Device: id,
			Value:  *req.Value,
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins serving in the background. The returned channel fires
// if the listener fails, so startup can turn a bind failure into a
// non-zero exit.
func (s *Server) Start() <-chan error {
	s.logger.Info("Starting status server", zap.String("addr", s.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping status server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
