package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/internal/observability"
)

// Identity is the authenticated caller, resolved upstream by the auth
// collaborator and carried on trusted headers.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

// IdentityFrom extracts the caller identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// withRequestID assigns or echoes X-Request-Id and threads it through the
// context so every log line and the response body carry the same id.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(observability.WithRequestID(r.Context(), id)))
	})
}

// withIdentity resolves the caller from the auth headers and enforces the
// route's permission. A missing identity is 401, an insufficient role 403.
func (s *Server) withIdentity(perm Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			s.writeError(w, r, errdefs.New(errdefs.KindUnauthorized, "missing caller identity"))
			return
		}
		role := strings.TrimSpace(r.Header.Get("X-User-Role"))
		if role == "" {
			role = "user"
		}
		if !allows(role, perm) {
			s.writeError(w, r, errdefs.Forbidden("role lacks permission "+string(perm)))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, Identity{UserID: userID, Role: role})
		ctx = observability.WithUserID(ctx, userID)
		next(w, r.WithContext(ctx))
	}
}

// instrument records request duration, count, and an access log line. The
// metric path label is the route pattern, never the raw URL, so cardinality
// stays bounded.
func (s *Server) instrument(pattern string, next http.HandlerFunc) http.HandlerFunc {
	path := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		path = pattern[i+1:]
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				s.deps.Log.Error(r.Context(), "handler panic", "path", path, "panic", rec)
				if !sw.wrote {
					s.writeError(sw, r, errdefs.New(errdefs.KindInternal, "internal error"))
				}
			}
			elapsed := time.Since(start)
			status := strconv.Itoa(sw.status)
			if s.deps.Metrics != nil {
				s.deps.Metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(elapsed.Seconds())
				s.deps.Metrics.HTTPRequestCounter.WithLabelValues(r.Method, path, status).Inc()
			}
			s.deps.Log.Info(r.Context(), "http request",
				"method", r.Method,
				"path", path,
				"status", sw.status,
				"duration_ms", elapsed.Milliseconds(),
			)
		}()

		next(sw, r)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wrote {
		w.status = status
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}
