// Package httpapi exposes sessions, voting and the leaderboard as a JSON
// API for the UI.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ahrav/go-arena/internal/application"
	"github.com/ahrav/go-arena/internal/domain"
	"github.com/ahrav/go-arena/internal/ports"
)

// maxBodyBytes bounds request bodies; prompts are far smaller.
const maxBodyBytes = 1 << 20

// Deps are the collaborators of Server.
type Deps struct {
	Service  *application.Service
	Sessions *application.SessionRegistry
	// AdminToken guards /api/admin; empty disables those routes.
	AdminToken string
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Metrics  ports.MetricsCollector
	Logger   *zap.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	svc        *application.Service
	sessions   *application.SessionRegistry
	adminToken string
	gatherer   prometheus.Gatherer
	metrics    ports.MetricsCollector
	logger     *zap.Logger
}

// NewServer creates a Server.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = ports.NopMetrics{}
	}
	return &Server{
		svc:        d.Service,
		sessions:   d.Sessions,
		adminToken: d.AdminToken,
		gatherer:   d.Gatherer,
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// NewRouter returns the router with every route registered.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/api/health", s.HandleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/sessions", s.HandleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}", s.HandleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", s.HandleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/api/sessions/{id}/prompt", s.HandlePrompt).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/refresh", s.HandleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/sessions/{id}/vote", s.HandleVote).Methods(http.MethodPost)

	r.HandleFunc("/api/leaderboard", s.HandleLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/api/votes/count", s.HandleVoteCount).Methods(http.MethodGet)

	r.Handle("/api/admin/cleanup", s.RequireAdmin(http.HandlerFunc(s.HandleCleanup))).Methods(http.MethodPost)
	r.Handle("/api/admin/rebuild", s.RequireAdmin(http.HandlerFunc(s.HandleRebuild))).Methods(http.MethodPost)
	r.Handle("/api/admin/dbstats", s.RequireAdmin(http.HandlerFunc(s.HandleDatabaseStats))).Methods(http.MethodGet)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// RequireAdmin admits requests carrying "Authorization: Bearer <AdminToken>".
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusNotFound, "admin routes are disabled")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleHealth reports liveness and whether storage is usable.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.svc.StorageAvailable() {
		if err := s.svc.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"storage_available": s.svc.StorageAvailable(),
		"sessions":          s.sessions.Len(),
	})
}

type sessionResponse struct {
	ID string `json:"id"`
	application.Snapshot
	StorageAvailable bool `json:"storage_available"`
}

func (s *Server) sessionBody(id string, snap application.Snapshot) sessionResponse {
	return sessionResponse{ID: id, Snapshot: snap, StorageAvailable: s.svc.StorageAvailable()}
}

// HandleCreateSession starts a session with a fresh pair.
func (s *Server) HandleCreateSession(w http.ResponseWriter, _ *http.Request) {
	id, arb, err := s.sessions.Create()
	if err != nil {
		s.fail(w, err)
		return
	}
	s.metrics.RecordGauge("sessions_active", float64(s.sessions.Len()), nil)
	writeJSON(w, http.StatusCreated, s.sessionBody(id, arb.Snapshot()))
}

// HandleGetSession returns the session snapshot.
func (s *Server) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	arb, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionBody(id, arb.Snapshot()))
}

// HandleDeleteSession ends a session.
func (s *Server) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(mux.Vars(r)["id"]) {
		s.fail(w, application.ErrSessionNotFound)
		return
	}
	s.metrics.RecordGauge("sessions_active", float64(s.sessions.Len()), nil)
	w.WriteHeader(http.StatusNoContent)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// HandlePrompt submits a prompt and waits for both responses.
func (s *Server) HandlePrompt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	arb, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req promptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := arb.Submit(r.Context(), req.Prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionBody(id, snap))
}

// HandleRefresh re-pairs the session.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	arb, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	snap, err := arb.Refresh(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionBody(id, snap))
}

type voteRequest struct {
	Outcome string `json:"outcome"`
}

type voteResponse struct {
	VoteID domain.VoteID `json:"vote_id"`
	sessionResponse
}

// HandleVote records the voter's verdict on the current episode.
func (s *Server) HandleVote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	arb, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, err)
		return
	}
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	outcome, err := domain.ParseOutcome(req.Outcome)
	if err != nil {
		s.fail(w, err)
		return
	}
	voteID, err := arb.Vote(r.Context(), outcome)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{VoteID: voteID, sessionResponse: s.sessionBody(id, arb.Snapshot())})
}

// HandleLeaderboard returns the ranked models. ?limit=n overrides the
// default length.
func (s *Server) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.svc.GetLeaderboard(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleVoteCount returns the number of stored votes.
func (s *Server) HandleVoteCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.GetVoteCount(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

// HandleCleanup removes invalid stats records.
func (s *Server) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.CleanupStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleRebuild recomputes the stats from the vote log.
func (s *Server) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.RebuildStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      report.Events,
		"skipped":     report.Skipped,
		"models":      report.Models,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

// HandleDatabaseStats returns the storage debug view.
func (s *Server) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.DatabaseStats(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeError(w, code, publicMessage(err))
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrSameModel),
		errors.Is(err, domain.ErrEmptyModel):
		return http.StatusBadRequest
	case errors.Is(err, application.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrVoteNotAllowed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrVoteRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides driver details from clients.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrConnectionUnavailable):
		return "storage is unavailable; voting and the leaderboard are disabled"
	case errors.Is(err, domain.ErrWriteRejected):
		return "the vote was not recorded"
	case statusFor(err) >= http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
