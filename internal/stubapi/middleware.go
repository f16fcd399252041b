package stubapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// HeaderRequestID is echoed back on every response.
const HeaderRequestID = "X-Request-ID"

// MsgRateLimited is the detail of a per-user 429.
const MsgRateLimited = "rate limit exceeded (429)"

// RequestID keeps the caller's request id or assigns one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.Must(uuid.NewV4()).String()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

// Logging logs one line per request and records it in m (which may be nil).
func Logging(log *zap.Logger, m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			dur := time.Since(start)
			m.RecordRequest(route, r.Method, code, dur)

			// metadata only, never bodies or headers
			log.Info("http",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("code", code),
				zap.Duration("dur", dur),
				zap.String("peer", r.RemoteAddr),
				zap.String("request_id", r.Header.Get(HeaderRequestID)),
			)
		})
	}
}

// Recover turns a handler panic into a 500.
func Recover(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic",
						zap.Any("reason", rec),
						zap.ByteString("stack", debug.Stack()),
						zap.String("path", r.URL.Path),
					)
					writeDetail(w, http.StatusInternalServerError, "internal")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// authFailure writes the route family's 401 body.
type authFailure func(w http.ResponseWriter)

func backendUnauthorized(w http.ResponseWriter) {
	writeDetail(w, http.StatusUnauthorized, "Not authenticated")
}

func identityUnauthorized(w http.ResponseWriter) {
	writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT: unable to parse or verify signature")
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(fail authFailure) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, err := bearerToken(r)
			if err != nil {
				fail(w)
				return
			}
			id, claims, err := verifyToken(tok, s.signKey)
			if err != nil {
				s.log.Debug("rejected token", zap.Error(err))
				fail(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller{UserID: id, Email: claims.Email})))
		})
	}
}

// optionalAuth attaches the user when a bearer is sent. A bearer that does
// not verify is still rejected so clients learn to refresh.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearerToken(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		id, claims, err := verifyToken(tok, s.signKey)
		if err != nil {
			backendUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller{UserID: id, Email: claims.Email})))
	})
}

// requireAPIKey checks the identity endpoint's apikey header.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("apikey")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.anonKey)) != 1 {
			writeAuthError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the per-user limiter, keyed by the remote address for
// anonymous callers.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.perUser == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if c, ok := callerFrom(r.Context()); ok {
			key = "user:" + c.UserID.String()
		}
		if !s.perUser.Allow(key) {
			s.metrics.RecordRateLimited("backend")
			w.Header().Set("Retry-After", "60")
			writeDetail(w, http.StatusTooManyRequests, MsgRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port middleware.RealIP leaves on direct connections.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
