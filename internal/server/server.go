// Package server exposes the integration over HTTP: the action endpoint
// consumed by the host, liveness, an operational status snapshot and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polarityio/dataminr-pulse-limited/internal/dispatch"
	"github.com/polarityio/dataminr-pulse-limited/internal/model"
	"github.com/polarityio/dataminr-pulse-limited/internal/store"
)

// Dispatcher routes one inbound action payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, p dispatch.Payload) (any, *dispatch.Error)
}

// PollingStatus reports polling progress for the status endpoint.
type PollingStatus interface {
	PollingState() (model.PollingState, bool)
}

// Server is the HTTP surface of the integration.
type Server struct {
	r       *chi.Mux
	disp    Dispatcher
	store   store.Store
	polling PollingStatus
	log     *slog.Logger
}

func New(disp Dispatcher, st store.Store, polling PollingStatus, log *slog.Logger) *Server {
	s := &Server{
		r:       chi.NewRouter(),
		disp:    disp,
		store:   st,
		polling: polling,
		log:     log,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.Recoverer)
	s.r.Use(s.logRequests)

	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.Post("/api/message", s.handleMessage)
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	s.r.Get("/status", s.handleStatus)
	s.r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

// Handler returns the routed handler for an http.Server.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload dispatch.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, &dispatch.Error{Detail: "Invalid message payload", Err: err.Error()})
		return
	}

	res, derr := s.disp.Dispatch(r.Context(), payload)
	if derr != nil {
		writeJSON(w, statusFor(derr), derr)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor maps a dispatch error onto the response status: a vendor 404
// passes through, any other upstream failure is a bad gateway, and an error
// without an upstream cause means the payload itself was bad.
func statusFor(derr *dispatch.Error) int {
	switch {
	case derr.Status == http.StatusNotFound:
		return http.StatusNotFound
	case derr.Status != 0 || derr.Err != "":
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// statusResponse is the operational snapshot: polling progress plus cache
// occupancy.
type statusResponse struct {
	PollingInitialized   bool      `json:"pollingInitialized"`
	LastPollTime         time.Time `json:"lastPollTime"`
	LastCursor           string    `json:"lastCursor,omitempty"`
	AlertCount           int       `json:"alertCount"`
	TotalAlertsProcessed int64     `json:"totalAlertsProcessed"`
	CachedAlerts         int       `json:"cachedAlerts"`
	CachedLists          int       `json:"cachedLists"`
	LatestAlertTimestamp int64     `json:"latestAlertTimestamp"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	out := statusResponse{
		CachedAlerts:         stats.Alerts,
		CachedLists:          stats.Lists,
		LatestAlertTimestamp: stats.LatestTimestamp,
	}
	if state, ok := s.polling.PollingState(); ok {
		out.PollingInitialized = true
		out.LastPollTime = state.LastPollTime
		out.LastCursor = state.LastCursor
		out.AlertCount = state.AlertCount
		out.TotalAlertsProcessed = state.TotalAlertsProcessed
	}
	writeJSON(w, http.StatusOK, out)
}

// logRequests writes one slog line per served request, tagged with the chi
// request id.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
