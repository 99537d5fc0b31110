package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/sigil-registry/internal/events"
	"github.com/nidhogg/sigil-registry/internal/notify"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"github.com/nidhogg/sigil-registry/internal/registry"
	"github.com/nidhogg/sigil-registry/internal/sweep"
	"go.uber.org/zap"
)

// IdentityHeader carries the caller's identity. Signature verification
// happens upstream of this service.
const IdentityHeader = "X-Sigil-Identity"

// AttestationIndex answers which skills an auditor has signed.
type AttestationIndex interface {
	SkillsAttestedBy(ctx context.Context, auditor registry.Identity) ([]string, error)
}

// Graph answers relationship queries over the attestation network.
type Graph interface {
	Attestors(ctx context.Context, fingerprint string) ([]string, error)
	Peers(ctx context.Context, auditor registry.Identity) ([]string, error)
}

// EventLog reads recent events from a stream.
type EventLog interface {
	Recent(ctx context.Context, stream string, count int64) ([]registry.Event, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	ledger  *registry.Ledger
	index   AttestationIndex
	graph   Graph
	events  EventLog
	sweeper *sweep.Sweeper
	alerts  *notify.Broadcaster
	funder  Funder
	checks  map[string]HealthCheck
	checkMu sync.Mutex
	logger  *zap.Logger
}

// NewHandler creates a handler over ledger. Attestation lookups fall back to
// scanning the ledger until SetAttestationIndex installs a dedicated index.
func NewHandler(ledger *registry.Ledger, logger *zap.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		index:  ledger,
		checks: make(map[string]HealthCheck),
		logger: logger,
	}
}

func (h *Handler) SetAttestationIndex(idx AttestationIndex) { h.index = idx }
func (h *Handler) SetGraph(g Graph)                         { h.graph = g }
func (h *Handler) SetEventLog(l EventLog)                   { h.events = l }
func (h *Handler) SetSweeper(s *sweep.Sweeper)              { h.sweeper = s }
func (h *Handler) SetAlerts(b *notify.Broadcaster)          { h.alerts = b }
func (h *Handler) SetFunder(f Funder)                       { h.funder = f }

// AddHealthCheck registers a dependency probe reported by /api/health.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checkMu.Lock()
	defer h.checkMu.Unlock()
	h.checks[name] = check
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdentityHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/registry", h.getRegistry)

		r.Get("/skills", h.listSkills)
		r.Post("/skills", h.mintSkill)
		r.Get("/skills/{id}", h.getSkill)
		r.Post("/skills/{id}/attestations", h.addAttestation)
		r.Get("/skills/{id}/attestors", h.skillAttestors)
		r.Get("/skills/{id}/consensus", h.getConsensus)
		r.Post("/skills/{id}/consensus", h.recordConsensus)
		r.Get("/skills/{id}/executions", h.listExecutions)
		r.Post("/skills/{id}/executions", h.logExecution)

		r.Get("/auditors", h.listAuditors)
		r.Post("/auditors", h.initializeAuditor)
		r.Get("/auditors/{id}", h.getAuditor)
		r.Get("/auditors/{id}/attested", h.attestedBy)
		r.Get("/auditors/{id}/peers", h.auditorPeers)
		r.Post("/auditors/{id}/stake", h.stake)
		r.Post("/auditors/{id}/unstake", h.requestUnstake)
		r.Post("/auditors/{id}/withdraw", h.withdraw)
		r.Post("/auditors/{id}/slash", h.slash)
		r.Post("/auditors/{id}/tier", h.setTier)
		r.Post("/auditors/{id}/reinstate", h.reinstate)

		r.Post("/wallets/{id}/deposit", h.deposit)

		// Operations
		r.Get("/events", h.recentEvents)
		r.Post("/sweep", h.triggerSweep)
		r.Get("/alerts", h.alertHistory)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.checkMu.Lock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.checkMu.Unlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	body := map[string]interface{}{"status": "ok", "service": "sigil-registry", "checks": results}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (h *Handler) getRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Registry())
}

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event log not configured"})
		return
	}
	stream := events.AllStream
	if skill := r.URL.Query().Get("skill"); skill != "" {
		stream = events.SkillStream(skill)
	} else if auditor := r.URL.Query().Get("auditor"); auditor != "" {
		stream = events.AuditorStream(registry.Identity(auditor))
	}
	evs, err := h.events.Recent(r.Context(), stream, int64(queryLimit(r, 50)))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (h *Handler) triggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sweeper not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.sweeper.RunOnce(r.Context()))
}

func (h *Handler) alertHistory(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeJSON(w, http.StatusOK, []notify.AlertRecord{})
		return
	}
	writeJSON(w, http.StatusOK, h.alerts.History(queryLimit(r, 50)))
}

// caller returns the identity header or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (registry.Identity, bool) {
	id := r.Header.Get(IdentityHeader)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + IdentityHeader + " header"})
		return "", false
	}
	return registry.Identity(id), true
}

func skillParam(w http.ResponseWriter, r *http.Request) (registry.SkillID, bool) {
	id, err := registry.ParseSkillID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return registry.SkillID{}, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// statusFor maps ledger errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrSkillNotFound),
		errors.Is(err, registry.ErrAuditorNotFound),
		errors.Is(err, registry.ErrRegistryNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrSkillExists),
		errors.Is(err, registry.ErrAuditorExists),
		errors.Is(err, registry.ErrRegistryExists),
		errors.Is(err, registry.ErrAuditorAlreadySigned),
		errors.Is(err, registry.ErrConsensusAlreadyRecorded):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalidConsensusVerdict),
		errors.Is(err, registry.ErrInvalidAmount),
		errors.Is(err, registry.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrAuditorNotActive),
		errors.Is(err, registry.ErrInsufficientStake),
		errors.Is(err, registry.ErrStillLocked),
		errors.Is(err, registry.ErrUnstakeNotRequested),
		errors.Is(err, registry.ErrNothingToSlash),
		errors.Is(err, registry.ErrAuditorBanned),
		errors.Is(err, registry.ErrNotStaked),
		errors.Is(err, registry.ErrNotSlashed),
		errors.Is(err, registry.ErrSkillNotPriced),
		errors.Is(err, payment.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, registry.ErrSettlementFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
