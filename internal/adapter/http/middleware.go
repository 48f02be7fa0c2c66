package http

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/clinicops/secobs/internal/adapter/auth"
	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/metrics"
	"github.com/clinicops/secobs/pkg/apperror"
)

const CorrelationIDHeader = "X-Correlation-ID"

type claimsKey struct{}

// ClaimsFrom returns the authenticated caller, or nil
func ClaimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// correlationMiddleware ensures every request and response carries a correlation id
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(logger.WithCorrelationID(r.Context(), cid)))
	})
}

// observeMiddleware logs each request and records request metrics by route template
func observeMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			duration := time.Since(start)
			metrics.RecordRequest(r.Method, route, rec.code(), duration)
			log.Debug(r.Context(), "HTTP request", map[string]interface{}{
				"method":      r.Method,
				"route":       route,
				"status":      rec.code(),
				"duration_ms": duration.Milliseconds(),
			})
		})
	}
}

// recoveryMiddleware turns panics into a 500 envelope
func recoveryMiddleware(rs responder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					rs.log.Error(r.Context(), "Panic recovered", nil, map[string]interface{}{
						"panic": p,
						"stack": string(debug.Stack()),
					})
					rs.fail(w, r, apperror.NewInternalServer("An unexpected error occurred"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for allowed origins and answers preflight requests
func corsMiddleware(allowedOrigins []string) mux.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			if origin != "" {
				if _, ok := allowed[origin]; ok || wildcard {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Expose-Headers", CorrelationIDHeader)
				}
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+CorrelationIDHeader)
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenValidator validates bearer tokens
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// authenticator guards the security API and records every call in the audit chain
type authenticator struct {
	tokens TokenValidator
	audit  AuditService
	rs     responder
}

// require authenticates the caller and checks allow against its claims.
// Authenticated callers that fail the role check are recorded as access denied.
func (a *authenticator) require(allow func(*auth.Claims) bool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			resource := domain.Resource{Type: "security_api", ID: r.URL.Path}
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				a.audit.LogAccessDenied(r.Context(), domain.Actor{}, originFromRequest(r), resource, "missing bearer token")
				a.rs.fail(w, r, apperror.NewUnauthorized("Authorization header required"))
				return
			}

			claims, err := a.tokens.Validate(strings.TrimSpace(parts[1]))
			if err != nil {
				a.audit.LogAccessDenied(r.Context(), domain.Actor{}, originFromRequest(r), resource, err.Error())
				a.rs.fail(w, r, apperror.NewUnauthorized("Invalid or expired token"))
				return
			}

			if !allow(claims) {
				a.audit.LogAccessDenied(r.Context(), actorFromClaims(claims), originFromRequest(r), resource, "insufficient role: "+claims.Role)
				a.rs.fail(w, r, apperror.NewForbidden("Insufficient permissions"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			status := domain.OutcomeSuccess
			if rec.code() >= http.StatusBadRequest {
				status = domain.OutcomeFailure
			}
			a.audit.Write(ctx, domain.AuditEvent{
				Actor:    actorFromClaims(claims),
				Action:   domain.ActionSecurityAPI,
				Resource: resource,
				Origin:   originFromRequest(r),
				Status:   status,
				Metadata: map[string]interface{}{"statusCode": rec.code()},
			})
		})
	}
}

func adminOnly(c *auth.Claims) bool { return c.IsAdmin() }

func adminOrService(c *auth.Claims) bool { return c.IsAdmin() || c.Role == auth.RoleService }

func actorFromClaims(c *auth.Claims) domain.Actor {
	actor := domain.Actor{}
	if c.UserID > 0 {
		id := c.UserID
		actor.UserID = &id
	}
	if c.Email != "" {
		email := c.Email
		actor.Email = &email
	}
	if c.Role != "" {
		role := c.Role
		actor.Role = &role
	}
	return actor
}

func originFromRequest(r *http.Request) domain.Origin {
	return domain.Origin{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Path:      r.URL.Path,
	}
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
