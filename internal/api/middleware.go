package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"anon/internal/service"
)

// CSRFHeader carries anti-forgery tokens in both directions.
const CSRFHeader = "X-CSRF-Token"

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		slog.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", clientIP(r),
		)
	})
}

// Custom response writer to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type payloadCtxKey struct{}

// PayloadFromContext returns the verified token payload set by TokenMiddleware.
func PayloadFromContext(ctx context.Context) (*service.Payload, bool) {
	p, ok := ctx.Value(payloadCtxKey{}).(*service.Payload)
	return p, ok
}

// TokenMiddleware rejects requests without a valid token unless the route
// is whitelisted.
func (s *Server) TokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens.IsWhitelisted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		payload, ok := s.tokens.VerifyRequest(r)
		if !ok {
			logWarn(r, "token rejected")
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}

		ctx := context.WithValue(r.Context(), payloadCtxKey{}, payload)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CSRFMiddleware checks the X-CSRF-Token header (or csrf_token form field)
// on state-changing requests. In session mode the token rotates on every
// successful check and the replacement is returned in the same header.
func (s *Server) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) || s.csrfExempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		var sess service.Session
		if ws := sessionFromContext(r.Context()); ws != nil {
			sess = ws
		}

		token := r.Header.Get(CSRFHeader)
		if token == "" {
			token = r.FormValue("csrf_token")
		}
		if !s.csrf.Verify(token, sess) {
			logWarn(r, "csrf check failed")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if !s.csrf.Stateless() {
			w.Header().Set(CSRFHeader, s.csrf.CurrentToken(sess))
		}

		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
