package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicops/secobs/internal/logger"
)

// APIPrefix is the mount point of the security API
const APIPrefix = "/api/security"

// Server represents the HTTP server
type Server struct {
	addr   string
	log    logger.Logger
	server *http.Server
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Production   bool
	CORSOrigins  []string
}

// Dependencies are the services the API exposes
type Dependencies struct {
	Audit     AuditService
	Baselines BaselineService
	Sweep     RecalculationTrigger
	Anomalies AnomalyService
	Logins    LoginRecorder
	Tokens    TokenValidator
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, deps Dependencies, log logger.Logger) *Server {
	addr := net.JoinHostPort(config.Host, config.Port)
	return &Server{
		addr: addr,
		log:  log,
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(config, deps, log),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// NewRouter wires middleware, health, metrics and the security API
func NewRouter(config ServerConfig, deps Dependencies, log logger.Logger) *mux.Router {
	rs := responder{production: config.Production, log: log}

	router := mux.NewRouter()
	router.Use(correlationMiddleware)
	router.Use(observeMiddleware(log))
	router.Use(recoveryMiddleware(rs))
	router.Use(corsMiddleware(config.CORSOrigins))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Message: "unavailable", Data: map[string]string{"status": "degraded"}})
				return
			}
		}
		rs.success(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	authn := &authenticator{tokens: deps.Tokens, audit: deps.Audit, rs: rs}
	api := router.PathPrefix(APIPrefix).Subrouter()

	// Preflight requests carry no credentials.
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	events := api.PathPrefix("/events").Subrouter()
	events.Use(authn.require(adminOrService))
	NewEventHandler(deps.Logins, rs).RegisterRoutes(events)

	admin := api.NewRoute().Subrouter()
	admin.Use(authn.require(adminOnly))
	NewAuditHandler(deps.Audit, rs).RegisterRoutes(admin)
	NewBaselineHandler(deps.Baselines, deps.Sweep, rs).RegisterRoutes(admin)
	NewAnomalyHandler(deps.Anomalies, rs).RegisterRoutes(admin)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info(context.Background(), "Starting HTTP server", map[string]interface{}{"addr": s.addr})
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info(ctx, "Shutting down HTTP server", nil)
	return s.server.Shutdown(ctx)
}
