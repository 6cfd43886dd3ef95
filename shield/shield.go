// Package shield holds the HTTP middleware shared by the blob and viewer
// servers.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(shield.ViewerHeaders(), logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/artipeek/idgen"
)

type contextKey string

// LoggerKey is the context key for the per-request logger.
const LoggerKey contextKey = "shield_logger"

// Headers are the security headers set on every response. Empty fields
// are skipped.
type Headers struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
}

// ViewerHeaders suit the viewer page: media may come from any loopback
// blob server, nothing else is loaded.
func ViewerHeaders() Headers {
	return Headers{
		CSP:                 "default-src 'none'; style-src 'unsafe-inline'; media-src http://127.0.0.1:* blob:; img-src http://127.0.0.1:*; form-action 'self'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
	}
}

// BlobHeaders suit raw resources embedded by other origins.
func BlobHeaders() Headers {
	return Headers{
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
	}
}

// SecurityHeaders sets h on every response.
func SecurityHeaders(h Headers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			set := func(k, v string) {
				if v != "" {
					w.Header().Set(k, v)
				}
			}
			set("Content-Security-Policy", h.CSP)
			set("X-Frame-Options", h.XFrameOptions)
			set("X-Content-Type-Options", h.XContentTypeOptions)
			set("Referrer-Policy", h.ReferrerPolicy)
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet lets r.Get routes answer HEAD; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

var traceID = idgen.NanoID(8)

// TraceID tags each request with a short id, echoed in X-Trace-ID, and
// stores a request-scoped logger in the context.
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := traceID()
			w.Header().Set("X-Trace-ID", id)
			logger := base.With("trace_id", id, "method", r.Method, "path", r.URL.Path)
			logger.Debug("shield: request", "remote_addr", r.RemoteAddr)
			ctx := context.WithValue(r.Context(), LoggerKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MaxBody caps request bodies.
func MaxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetLogger returns the request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Stack is the middleware chain used by artipeek servers.
func Stack(h Headers, logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.Recoverer,
		HeadToGet,
		SecurityHeaders(h),
		MaxBody(64 << 10),
		TraceID(logger),
	}
}
