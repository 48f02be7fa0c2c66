package http

import (
	"encoding/json"
	"net/http"

	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/pkg/apperror"
)

// Envelope is the response body of every API endpoint
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

// responder writes envelopes; raw error text is only exposed outside production.
type responder struct {
	production bool
	log        logger.Logger
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func (rs responder) success(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	writeJSON(w, statusCode, Envelope{Success: true, Message: message, Data: data})
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.MapError(err)
	if appErr.Status >= http.StatusInternalServerError {
		rs.log.Error(r.Context(), "Request failed", err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"code":   appErr.Code,
		})
	}

	env := Envelope{Success: false, Message: appErr.Message}
	if !rs.production && appErr.Cause != nil {
		env.Error = appErr.Cause.Error()
	}
	writeJSON(w, appErr.Status, env)
}

func (rs responder) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	rs.fail(w, r, apperror.NewBadRequest(message))
}
