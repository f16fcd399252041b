// Package stubapi is the development backend: the analysis and key
// endpoints plus a GoTrue-compatible identity endpoint.
package stubapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/api"
	"github.com/and161185/juniordebug/internal/limiter"
	"github.com/and161185/juniordebug/internal/logging"
	"github.com/and161185/juniordebug/internal/service"
)

const (
	maxJSONBody    = 1 << 20
	maxAnalyzeBody = 4 << 20
)

// Options configures a Server.
type Options struct {
	SignKey []byte // HS256 secret shared by issuer and verifier
	AnonKey string // required apikey header on /auth/v1

	// PerUser throttles backend routes; nil disables throttling.
	PerUser *limiter.PerKey

	Metrics  *Metrics
	Gatherer prometheus.Gatherer // serves /metrics when set
}

// Server wires services into HTTP handlers.
type Server struct {
	auth     service.AuthService
	keys     service.KeyService
	analyzer service.Analyzer

	signKey  []byte
	anonKey  string
	perUser  *limiter.PerKey
	metrics  *Metrics
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// New constructs a Server with injected services.
func New(auth service.AuthService, keys service.KeyService, analyzer service.Analyzer, opts Options, log *zap.Logger) *Server {
	return &Server{
		auth:     auth,
		keys:     keys,
		analyzer: analyzer,
		signKey:  opts.SignKey,
		anonKey:  opts.AnonKey,
		perUser:  opts.PerUser,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		log:      logging.OrNop(log),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		middleware.RealIP,
		Logging(s.log, s.metrics),
		Recover(s.log),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", MetricsHandler(s.gatherer))
	}

	r.Route("/auth/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/signup", s.handleSignUp)
		r.Post("/token", s.handleToken)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth(identityUnauthorized))
			r.Get("/user", s.handleUser)
			r.Post("/logout", s.handleLogout)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.optionalAuth, s.rateLimit)
		r.Post(api.PathAnalyze, s.handleAnalyze)
	})
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth(backendUnauthorized), s.rateLimit)
		r.Get(api.PathTestAPIKey, s.handleTestKey)
		r.Post(api.PathSaveAPIKey, s.handleSaveKey)
		r.Get(api.PathGetAPIKey, s.handleGetKey)
		r.Delete(api.PathDeleteKey, s.handleDeleteKey)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the backend error shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(v)
}
