// Package server exposes the supervisor over HTTP: one POST endpoint per configured route plus
// the operator endpoints /status, /events, /reset and /metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/worker-supervisor/worker"
	"github.com/inference-sim/worker-supervisor/worker/logmon"
)

// BadRequest is reported for malformed inbound envelopes.
const BadRequest = "BadRequest"

const (
	maxBodyBytes      = 64 << 20
	defaultEventLimit = 20
	shutdownTimeout   = 30 * time.Second
)

var reservedPaths = []string{"/status", "/events", "/reset", "/metrics"}

// Supervisor is the part of worker.Supervisor the operator endpoints use.
type Supervisor interface {
	Snapshot() worker.Snapshot
	RecentEvents(n int) []logmon.Event
	Reset() worker.WorkerStatus
}

// Server serves inbound traffic through a worker.Router.
type Server struct {
	sup     Supervisor
	router  *worker.Router
	metrics http.Handler
	mux     *http.ServeMux
}

// Option configures a Server
type Option func(*Server)

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New registers one handler per route known to the router's admission controller.
func New(sup Supervisor, router *worker.Router, opts ...Option) (*Server, error) {
	s := &Server{sup: sup, router: router, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}

	for _, route := range router.Admission().Routes() {
		if err := worker.ValidateRoutePath(route); err != nil {
			return nil, err
		}
		for _, reserved := range reservedPaths {
			if route == reserved {
				return nil, fmt.Errorf("route %q collides with an operator endpoint", route)
			}
		}
		s.mux.HandleFunc("POST "+route, s.handleRoute(route))
	}
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("POST /reset", s.handleReset)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
	s.mux.HandleFunc("/", s.handleNotFound)
	return s, nil
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return loggingMiddleware(s.mux)
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logrus.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// envelope is the inbound request body.
type envelope struct {
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (s *Server) handleRoute(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&env); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody{Code: BadRequest, Message: fmt.Sprintf("invalid request body: %v", err)})
			return
		}
		if env.RequestID == "" {
			env.RequestID = uuid.NewString()
		}
		if len(env.Payload) == 0 {
			env.Payload = json.RawMessage("null")
		}

		resp, err := s.router.Handle(r.Context(), &worker.Request{ID: env.RequestID, Route: route, Payload: env.Payload})
		if err != nil {
			writeError(w, env.RequestID, err)
			return
		}
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Request-Id", resp.RequestID)
		w.Header().Set("X-Queue-Wait-Ms", strconv.FormatInt(resp.QueueWait.Milliseconds(), 10))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp.Payload)
	}
}

// RouteStatus is the admission state of one route.
type RouteStatus struct {
	Path            string  `json:"path"`
	AllowParallel   bool    `json:"allow_parallel"`
	MaxQueueSeconds float64 `json:"max_queue_seconds"`
	InFlight        int     `json:"in_flight"`
	QueueDepth      int     `json:"queue_depth"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	worker.Snapshot
	Routes []RouteStatus `json:"routes"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ac := s.router.Admission()
	resp := StatusResponse{Snapshot: s.sup.Snapshot()}
	for _, path := range ac.Routes() {
		cfg, _ := ac.RouteConfig(path)
		resp.Routes = append(resp.Routes, RouteStatus{
			Path:            path,
			AllowParallel:   cfg.AllowParallel,
			MaxQueueSeconds: cfg.MaxQueueSeconds,
			InFlight:        ac.InFlight(path),
			QueueDepth:      ac.QueueDepth(path),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorBody{Code: BadRequest, Message: fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.sup.RecentEvents(limit)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	before := s.sup.Snapshot().Status
	after := s.sup.Reset()
	logrus.WithFields(logrus.Fields{"from": before, "to": after}).Info("operator reset requested")
	writeJSON(w, http.StatusOK, map[string]any{"previous": before, "status": after})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorBody{
		Code:    worker.UnknownRoute,
		Message: fmt.Sprintf("no handler for %s %s", r.Method, r.URL.Path),
	})
}

// HTTPStatus maps a condition code to the status returned to callers.
func HTTPStatus(code string) int {
	switch code {
	case worker.NotReady:
		return http.StatusServiceUnavailable
	case worker.UnknownRoute:
		return http.StatusNotFound
	case worker.QueueTimeout:
		return http.StatusTooManyRequests
	case worker.BackendError, worker.BackendUnreachable:
		return http.StatusBadGateway
	case worker.BackendTimeout:
		return http.StatusGatewayTimeout
	case BadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, requestID string, err error) {
	code := worker.CanonicalCode(err)
	msg := err.Error()
	var we worker.Error
	if errors.As(err, &we) {
		msg = we.Msg
	}
	w.Header().Set("X-Request-Id", requestID)
	writeJSON(w, HTTPStatus(code), ErrorBody{RequestID: requestID, Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.Debugf("writing response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("handled request")
	})
}
