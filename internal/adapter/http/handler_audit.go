package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clinicops/secobs/internal/domain"
)

// AuditService is the audit chain as used by the HTTP layer
type AuditService interface {
	Write(ctx context.Context, event domain.AuditEvent)
	LogAccessDenied(ctx context.Context, actor domain.Actor, origin domain.Origin, resource domain.Resource, reason string)
	Verify(ctx context.Context) (*domain.ChainVerification, error)
	ImmutabilityStatus(ctx context.Context) domain.ImmutabilityStatus
	InstallImmutability(ctx context.Context) error
}

// AuditHandler exposes chain verification and the immutability guard
type AuditHandler struct {
	audit AuditService
	rs    responder
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit AuditService, rs responder) *AuditHandler {
	return &AuditHandler{audit: audit, rs: rs}
}

// RegisterRoutes registers audit routes on an admin-only subrouter
func (h *AuditHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/verify", h.Verify).Methods(http.MethodGet)
	router.HandleFunc("/audit/immutability", h.ImmutabilityStatus).Methods(http.MethodGet)
	router.HandleFunc("/audit/immutability", h.InstallImmutability).Methods(http.MethodPost)
}

// Verify walks the whole chain
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	result, err := h.audit.Verify(r.Context())
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}
	h.rs.success(w, http.StatusOK, result.Message, result)
}

// ImmutabilityStatus reports the storage guard state
func (h *AuditHandler) ImmutabilityStatus(w http.ResponseWriter, r *http.Request) {
	status := h.audit.ImmutabilityStatus(r.Context())
	h.rs.success(w, http.StatusOK, status.Message, status)
}

// InstallImmutability installs the guard and returns the resulting status
func (h *AuditHandler) InstallImmutability(w http.ResponseWriter, r *http.Request) {
	if err := h.audit.InstallImmutability(r.Context()); err != nil {
		h.rs.fail(w, r, err)
		return
	}
	status := h.audit.ImmutabilityStatus(r.Context())
	h.rs.success(w, http.StatusOK, status.Message, status)
}
