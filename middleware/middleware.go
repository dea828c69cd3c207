// Package middleware enforces rate limits on HTTP handlers. It is built
// for chi: the matched route pattern is the resource unless the router (or
// Endpoint) recorded a resource name in the request metadata.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/toolink/ratelimit/limiter"
	"github.com/toolink/ratelimit/meta"
)

// RequestIDHeader is read for an incoming correlation ID and echoed back.
const RequestIDHeader = "X-Request-ID"

// Endpoint records name as the matched endpoint of every request passing
// through. Use it with chi's inline middlewares:
//
//	r.With(middleware.Endpoint("Page")).Get("/page", handler)
func Endpoint(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, md := meta.Ensure(r.Context())
			md.Set(meta.RouteEndpoint, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit admits or rejects each request with ctrl. Admitted requests get
// the X-Rate-Limit-* headers and continue; rejected requests get 429 with
// the same headers; configuration and store failures get 500. Requests
// without an identity pass through untouched.
func RateLimit(ctrl *limiter.Controller) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, md := meta.Ensure(r.Context())
			if id := r.Header.Get(RequestIDHeader); id != "" {
				if _, ok := md.String(meta.RequestID); !ok {
					md.Set(meta.RequestID, id)
				}
			}
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, md.RequestID())

			dec, err := ctrl.Admit(ctx, &request{r: r, md: md})
			if err != nil {
				writeError(w, err)
				return
			}
			if !dec.Skipped {
				dec.Quota.Apply(w.Header())
			}
			next.ServeHTTP(w, r)
		})
	}
}

// request adapts *http.Request to limiter.Request.
type request struct {
	r  *http.Request
	md *meta.Metadata
}

func (q *request) Attribute(name string) (string, bool) {
	if v, ok := q.md.String(name); ok && v != "" {
		return v, true
	}
	if name == meta.RouteEndpoint {
		if rctx := chi.RouteContext(q.r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				return pattern, true
			}
		}
	}
	return "", false
}

func (q *request) HasHeader(name string) bool {
	_, ok := q.r.Header[http.CanonicalHeaderKey(name)]
	return ok
}

// HeaderLine joins repeated header values with a comma.
func (q *request) HeaderLine(name string) string {
	return strings.Join(q.r.Header.Values(name), ",")
}

func (q *request) CorrelationID() string {
	return q.md.RequestID()
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: errorDetail{Code: "internal_error", Message: "internal server error"}}

	switch {
	case limiter.IsQuotaExceeded(err):
		status = http.StatusTooManyRequests
		body.Error = errorDetail{Code: "too_many_requests", Message: err.Error()}
		if quota, ok := limiter.QuotaFromError(err); ok {
			quota.Apply(w.Header())
		}
	case limiter.IsConfigError(err):
		log.Error().Err(err).Msg("rate limit misconfigured")
	default:
		log.Error().Err(err).Msg("rate limit check failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
