package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clinicops/secobs/internal/usecase"
)

// LoginRecorder ingests authentication outcomes
type LoginRecorder interface {
	Record(ctx context.Context, req usecase.LoginEventRequest) (*usecase.LoginEventResult, error)
}

// EventHandler receives security events from the auth service
type EventHandler struct {
	logins LoginRecorder
	rs     responder
}

// NewEventHandler creates a new event handler
func NewEventHandler(logins LoginRecorder, rs responder) *EventHandler {
	return &EventHandler{logins: logins, rs: rs}
}

// RegisterRoutes registers event ingestion routes on the /events subrouter
func (h *EventHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.RecordLogin).Methods(http.MethodPost)
}

// RecordLogin audits a login outcome and screens successful logins
func (h *EventHandler) RecordLogin(w http.ResponseWriter, r *http.Request) {
	var req usecase.LoginEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rs.badRequest(w, r, "Invalid request body")
		return
	}

	result, err := h.logins.Record(r.Context(), req)
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}

	message := "Login event recorded"
	if len(result.Anomalies) > 0 {
		message = "Login event recorded with anomalies"
	}
	h.rs.success(w, http.StatusAccepted, message, result)
}
