package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"i4.energy/across/linkmux/at"
	"i4.energy/across/linkmux/link"
	"i4.energy/across/linkmux/modem"
	"i4.energy/across/linkmux/mux"
)

const defaultCommandTimeout = 5 * time.Second

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger   *slog.Logger
	Modem    *modem.Modem
	Registry *prometheus.Registry
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routes := http.NewServeMux()
	routes.HandleFunc("POST /command", s.handleCommand)
	routes.HandleFunc("POST /publish", s.handlePublish)
	routes.HandleFunc("GET /stats", s.handleStats)
	if s.Registry != nil {
		routes.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}
	routes.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, body any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

// statusFor maps modem errors to HTTP status codes.
func statusFor(err error) int {
	var linkErr *link.Error
	switch {
	case errors.Is(err, modem.ErrTransactionBusy):
		return http.StatusConflict
	case errors.Is(err, modem.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrFatalResponse):
		return http.StatusUnprocessableEntity
	case errors.As(err, &linkErr),
		errors.Is(err, modem.ErrStopped),
		errors.Is(err, modem.ErrLoopNotRunning),
		errors.Is(err, modem.ErrAlreadyClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleCommand issues a raw AT command and reports its outcome
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	type CommandRequest struct {
		Command   string   `json:"command"`
		Accept    []string `json:"accept"`
		Fatal     []string `json:"fatal"`
		TimeoutMS int      `json:"timeout_ms"`
	}
	type CommandResponse struct {
		Outcome  string `json:"outcome"`
		Token    string `json:"token,omitempty"`
		Captured string `json:"captured"`
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		s.sendError(w, "'command' field is required", http.StatusBadRequest)
		return
	}
	if req.Accept == nil {
		req.Accept = at.SuccessTokens
	}
	if req.Fatal == nil {
		req.Fatal = at.FailureTokens
	}
	timeout := defaultCommandTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	out, err := s.Modem.Execute(r.Context(), req.Command, req.Accept, req.Fatal, timeout)
	if err != nil && out.Kind != modem.TimedOut {
		s.Logger.Error("Command failed", "error", err, "command", req.Command)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	status := http.StatusOK
	switch out.Kind {
	case modem.TimedOut:
		status = http.StatusGatewayTimeout
	case modem.FatalMatched:
		status = http.StatusUnprocessableEntity
	}
	s.Logger.Info("Command resolved", "command", req.Command, "outcome", out.Kind)
	s.sendJSON(w, CommandResponse{
		Outcome:  out.Kind.String(),
		Token:    out.Token,
		Captured: out.Captured,
	}, status)
}

// handlePublish publishes a message through the modem's MQTT client
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	type PublishRequest struct {
		Client  int    `json:"client"`
		Topic   string `json:"topic"`
		Payload string `json:"payload"`
		QoS     int    `json:"qos"`
	}

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		s.sendError(w, "'topic' field is required", http.StatusBadRequest)
		return
	}
	if req.QoS < 0 || req.QoS > 2 {
		s.sendError(w, "'qos' must be 0, 1 or 2", http.StatusBadRequest)
		return
	}

	if err := s.Modem.MQTT(req.Client).PublishWithRetry(r.Context(), req.Topic, []byte(req.Payload), req.QoS); err != nil {
		s.Logger.Error("Failed to publish", "error", err, "topic", req.Topic)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Message published", "topic", req.Topic, "payload_length", len(req.Payload))
	w.WriteHeader(http.StatusOK)
}

// handleStats reports the pipeline counters
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	type StatsResponse struct {
		Running bool         `json:"running"`
		Stats   mux.Snapshot `json:"stats"`
	}
	s.sendJSON(w, StatsResponse{
		Running: s.Modem.Running(),
		Stats:   s.Modem.Stats(),
	}, http.StatusOK)
}
