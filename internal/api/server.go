package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-tester/internal/analyzer"
	"github.com/lorawan-server/lorawan-tester/internal/auth"
	"github.com/lorawan-server/lorawan-tester/internal/config"
	"github.com/lorawan-server/lorawan-tester/internal/forger"
	"github.com/lorawan-server/lorawan-tester/internal/gateway"
	"github.com/lorawan-server/lorawan-tester/internal/integration"
	"github.com/lorawan-server/lorawan-tester/internal/metrics"
	"github.com/lorawan-server/lorawan-tester/internal/session"
	"github.com/lorawan-server/lorawan-tester/internal/transmit"
	"github.com/lorawan-server/lorawan-tester/internal/validation"
)

// GatewayLister reports the gateways seen by the UDP listener
type GatewayLister interface {
	Gateways() []gateway.GatewayInfo
}

// Deps are the components the API operates on. Sink, Gateways, Publisher
// and Registry may be nil; the matching endpoints then report 503 or are
// not mounted.
type Deps struct {
	Sessions  *session.Manager
	Analyzer  *analyzer.Analyzer
	Forger    *forger.Forger
	Sink      *transmit.CountingSink
	Gateways  GatewayLister
	Publisher integration.Publisher
	Registry  *prometheus.Registry
}

// RESTServer represents the REST API server
type RESTServer struct {
	config    *config.Config
	deps      Deps
	auth      *auth.JWTManager
	validator *validation.Validator
	router    chi.Router
	server    *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, deps Deps) *RESTServer {
	s := &RESTServer{
		config:    cfg,
		deps:      deps,
		auth:      auth.NewJWTManager(&cfg.JWT),
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if !s.auth.Enabled() {
		if cfg.API.Insecure {
			log.Warn().Msg("JWT secret not set and api.insecure enabled, API endpoints are unauthenticated")
		} else {
			log.Error().Msg("JWT secret not set, only public API endpoints are served")
		}
	}
	return s
}

// Handler returns the root handler
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS, same origin only unless origins are configured
	if origins := s.config.API.AllowedOrigins; len(origins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: !wildcard(origins),
			MaxAge:           300,
		}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})

	if s.deps.Registry != nil {
		s.router.Handle("/metrics", metrics.Handler(s.deps.Registry))
	}
}

func wildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// protected reports whether the operator routes are mounted: they need a
// JWT secret, or an explicit api.insecure
func (s *RESTServer) protected() bool {
	return s.auth.Enabled() || s.config.API.Insecure
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type ctxKey int

const claimsKey ctxKey = iota

// claimsFrom returns the operator claims of an authenticated request
func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs each request through zerolog
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("requestID", middleware.GetReqID(r.Context())).
			Msg("API request")
	})
}
