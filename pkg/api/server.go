package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mereon-labs/keel/pkg/enforce"
	"github.com/mereon-labs/keel/pkg/escalation"
	"github.com/mereon-labs/keel/pkg/identity"
	"github.com/mereon-labs/keel/pkg/ledger"
	"github.com/mereon-labs/keel/pkg/policy"
	"github.com/mereon-labs/keel/pkg/registry"
)

const maxBodyBytes = 1 << 20

// Server exposes the enforcement core over HTTP.
type Server struct {
	engine   *enforce.Engine
	registry registry.Registry
	ledger   *ledger.Ledger
	reviews  *escalation.Manager
	resolver *identity.Resolver
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewServer wires the HTTP boundary.
func NewServer(engine *enforce.Engine, reg registry.Registry, led *ledger.Ledger, reviews *escalation.Manager, resolver *identity.Resolver, limiter *RateLimiter) *Server {
	return &Server{
		engine:   engine,
		registry: reg,
		ledger:   led,
		reviews:  reviews,
		resolver: resolver,
		limiter:  limiter,
		logger:   slog.Default().With("component", "api"),
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	auth := AuthMiddleware(s.resolver)
	mux.Handle("POST /v1/evaluate", auth(http.HandlerFunc(s.handleEvaluate)))
	mux.Handle("POST /v1/systems", auth(http.HandlerFunc(s.handleRegisterSystem)))
	mux.Handle("POST /v1/systems/{id}/status", auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /v1/ledger/verify", auth(http.HandlerFunc(s.handleVerify)))
	mux.Handle("POST /v1/reviews/{id}/approve", auth(http.HandlerFunc(s.handleApprove)))
	mux.Handle("POST /v1/reviews/{id}/deny", auth(http.HandlerFunc(s.handleDeny)))

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EvaluateRequest is the evaluate payload. The tenant comes from the
// bearer token, never from this body.
type EvaluateRequest struct {
	SystemID     string `json:"system_id"`
	TaskText     string `json:"task_text"`
	Environment  string `json:"environment"`
	ArtifactType string `json:"artifact_type,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.SystemID == "" || req.TaskText == "" {
		WriteBadRequest(w, "Missing required fields: system_id, task_text")
		return
	}

	decision, err := s.engine.Evaluate(r.Context(), enforce.Request{
		TenantID:     tenantID,
		SystemID:     req.SystemID,
		TaskText:     req.TaskText,
		Environment:  req.Environment,
		ArtifactType: req.ArtifactType,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleRegisterSystem(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var system registry.System
	if err := json.NewDecoder(r.Body).Decode(&system); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if system.ID == "" {
		WriteBadRequest(w, "Missing required field: id")
		return
	}

	if err := s.registry.RegisterSystem(r.Context(), &system, tenantID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": system.ID})
}

// StatusRequest is the administrative status-change payload.
type StatusRequest struct {
	Status     registry.OperationalStatus `json:"status"`
	Reason     string                     `json:"reason"`
	OperatorID string                     `json:"operator_id"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	systemID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.Status == "" {
		WriteBadRequest(w, "Missing required field: status")
		return
	}

	change, err := s.registry.SetOperationalStatus(r.Context(), systemID, tenantID, req.Status, req.Reason, req.OperatorID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Verify(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ReviewRequest carries the operator acting on an escalated decision.
type ReviewRequest struct {
	OperatorID string `json:"operator_id"`
	Note       string `json:"note,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveReview(w, r, true)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.resolveReview(w, r, false)
}

func (s *Server) resolveReview(w http.ResponseWriter, r *http.Request, approve bool) {
	tenantID, ok := TenantFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
		return
	}
	reviewID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.OperatorID == "" {
		WriteBadRequest(w, "Missing required field: operator_id")
		return
	}

	// Reviews are tenant-scoped like everything else.
	review, err := s.reviews.Get(reviewID)
	if err != nil || review.TenantID != tenantID {
		WriteNotFound(w, "No such review")
		return
	}

	var receipt *escalation.Receipt
	if approve {
		receipt, err = s.reviews.Approve(r.Context(), reviewID, req.OperatorID)
	} else {
		receipt, err = s.reviews.Deny(r.Context(), reviewID, req.OperatorID, req.Note)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

// writeDomainError maps core errors onto HTTP statuses. Isolation errors
// are 404 by construction; the registry never distinguishes "not yours"
// from "not there".
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		WriteNotFound(w, "No such system or tenant")
	case errors.Is(err, escalation.ErrReviewNotFound):
		WriteNotFound(w, "No such review")
	case errors.Is(err, registry.ErrTenantMismatch):
		WriteForbidden(w, "Payload tenant does not match the authenticated tenant")
	case errors.Is(err, registry.ErrDuplicateTenant):
		WriteConflict(w, "Tenant already exists")
	case errors.Is(err, registry.ErrDuplicateSystem):
		WriteConflict(w, "System already registered")
	case errors.Is(err, registry.ErrInvalidTransition):
		WriteConflict(w, "Invalid operational status transition")
	case errors.Is(err, escalation.ErrAlreadyResolved):
		WriteConflict(w, "Review already resolved")
	case errors.Is(err, policy.ErrPolicyUnresolved):
		WriteUnprocessable(w, "Required policy layer is missing")
	default:
		WriteInternal(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
