package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clinicops/secobs/internal/domain"
)

// BaselineService computes and reads behavioral baselines
type BaselineService interface {
	Calculate(ctx context.Context, ref domain.UserRef, baselineType domain.BaselineType) (*domain.BehaviorBaseline, error)
	CalculateAll(ctx context.Context, ref domain.UserRef) ([]*domain.BehaviorBaseline, error)
	GetBaselines(ctx context.Context, ref domain.UserRef) ([]*domain.BehaviorBaseline, error)
}

// RecalculationTrigger runs the full sweep on demand
type RecalculationTrigger interface {
	RunNow(ctx context.Context) (*domain.RecalculationSummary, error)
}

// BaselineHandler handles baseline endpoints
type BaselineHandler struct {
	baselines BaselineService
	sweep     RecalculationTrigger
	rs        responder
}

// NewBaselineHandler creates a new baseline handler
func NewBaselineHandler(baselines BaselineService, sweep RecalculationTrigger, rs responder) *BaselineHandler {
	return &BaselineHandler{baselines: baselines, sweep: sweep, rs: rs}
}

// RegisterRoutes registers baseline routes
func (h *BaselineHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/baselines/recalculate", h.Recalculate).Methods(http.MethodPost)
	router.HandleFunc("/baselines/{user}", h.GetBaselines).Methods(http.MethodGet)
	router.HandleFunc("/baselines/{user}/calculate", h.Calculate).Methods(http.MethodPost)
}

type calculateBaselineRequest struct {
	BaselineType string `json:"baselineType"`
}

// GetBaselines returns every stored baseline of a user given by id or email
func (h *BaselineHandler) GetBaselines(w http.ResponseWriter, r *http.Request) {
	ref, err := userRefFromPath(r)
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}

	baselines, err := h.baselines.GetBaselines(r.Context(), ref)
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}
	h.rs.success(w, http.StatusOK, "Baselines retrieved successfully", baselines)
}

// Calculate computes one baseline type, or all three when no type is given
func (h *BaselineHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	ref, err := userRefFromPath(r)
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}

	var req calculateBaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.rs.badRequest(w, r, "Invalid request body")
		return
	}
	if req.BaselineType == "" {
		req.BaselineType = r.URL.Query().Get("type")
	}

	if req.BaselineType == "" {
		baselines, err := h.baselines.CalculateAll(r.Context(), ref)
		if err != nil {
			h.rs.fail(w, r, err)
			return
		}
		h.rs.success(w, http.StatusOK, "Baselines calculated successfully", baselines)
		return
	}

	baseline, err := h.baselines.Calculate(r.Context(), ref, domain.BaselineType(req.BaselineType))
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}
	h.rs.success(w, http.StatusOK, "Baseline calculated successfully", baseline)
}

// Recalculate runs the daily sweep immediately
func (h *BaselineHandler) Recalculate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweep.RunNow(r.Context())
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}
	h.rs.success(w, http.StatusOK, "Baseline recalculation completed", summary)
}

// userRefFromPath reads the {user} variable, which mux has already decoded.
func userRefFromPath(r *http.Request) (domain.UserRef, error) {
	return domain.ParseUserRef(mux.Vars(r)["user"])
}
