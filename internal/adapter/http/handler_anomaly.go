package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinicops/secobs/internal/domain"
)

// AnomalyService lists and triages findings
type AnomalyService interface {
	List(ctx context.Context, filter domain.AnomalyFilter) (*domain.AnomalyPage, error)
	UpdateStatus(ctx context.Context, id int64, rawStatus string, reviewedBy *int64) (*domain.AnomalyFinding, error)
	Statistics(ctx context.Context) (*domain.AnomalyStatistics, error)
}

// AnomalyHandler handles anomaly endpoints
type AnomalyHandler struct {
	anomalies AnomalyService
	rs        responder
}

// NewAnomalyHandler creates a new anomaly handler
func NewAnomalyHandler(anomalies AnomalyService, rs responder) *AnomalyHandler {
	return &AnomalyHandler{anomalies: anomalies, rs: rs}
}

// RegisterRoutes registers anomaly routes
func (h *AnomalyHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/anomalies", h.listView(domain.ViewOpen)).Methods(http.MethodGet)
	router.HandleFunc("/anomalies/notified", h.listView(domain.ViewNotified)).Methods(http.MethodGet)
	router.HandleFunc("/anomalies/statistics", h.Statistics).Methods(http.MethodGet)
	router.HandleFunc("/anomalies/{id}/status", h.UpdateStatus).Methods(http.MethodPatch)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *AnomalyHandler) listView(view domain.AnomalyView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseAnomalyFilter(r.URL.Query())
		if err != nil {
			h.rs.fail(w, r, err)
			return
		}
		filter.View = view

		page, err := h.anomalies.List(r.Context(), filter)
		if err != nil {
			h.rs.fail(w, r, err)
			return
		}
		h.rs.success(w, http.StatusOK, "Anomalies retrieved successfully", page)
	}
}

// UpdateStatus triages one finding; the reviewer is the authenticated caller
func (h *AnomalyHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseID("anomaly id", mux.Vars(r)["id"])
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.rs.badRequest(w, r, "Invalid request body")
		return
	}

	var reviewedBy *int64
	if claims := ClaimsFrom(r.Context()); claims != nil && claims.UserID > 0 {
		uid := claims.UserID
		reviewedBy = &uid
	}

	finding, err := h.anomalies.UpdateStatus(r.Context(), id, req.Status, reviewedBy)
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}
	h.rs.success(w, http.StatusOK, "Anomaly status updated successfully", finding)
}

// Statistics returns aggregate counts
func (h *AnomalyHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.anomalies.Statistics(r.Context())
	if err != nil {
		h.rs.fail(w, r, err)
		return
	}
	h.rs.success(w, http.StatusOK, "Anomaly statistics retrieved successfully", stats)
}

func parseAnomalyFilter(q url.Values) (domain.AnomalyFilter, error) {
	var filter domain.AnomalyFilter

	if raw := q.Get("status"); raw != "" {
		s, err := domain.ParseAnomalyStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &s
	}

	if raw := q.Get("severity"); raw != "" {
		s, err := domain.ParseAnomalySeverity(raw)
		if err != nil {
			return filter, err
		}
		filter.Severity = &s
	}

	if raw := q.Get("userId"); raw != "" {
		id, err := domain.ParseID("userId", raw)
		if err != nil {
			return filter, err
		}
		filter.UserID = &id
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"startDate", &filter.StartDate}, {"endDate", &filter.EndDate}} {
		if raw := q.Get(p.name); raw != "" {
			t, err := parseDate(raw)
			if err != nil {
				return filter, domain.ErrInvalidArgument.WithDetail("%s must be RFC3339 or YYYY-MM-DD", p.name)
			}
			*p.dst = &t
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if raw := q.Get(p.name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return filter, domain.ErrInvalidArgument.WithDetail("%s must be a non-negative integer", p.name)
			}
			*p.dst = n
		}
	}

	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
