// Package interceptor enforces rate limits on gRPC servers. The full
// method name is the resource unless an earlier interceptor recorded one in
// the request metadata, and the identity is read from incoming metadata.
package interceptor

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/toolink/ratelimit/bucket"
	"github.com/toolink/ratelimit/limiter"
	"github.com/toolink/ratelimit/meta"
)

// RequestIDKey is the metadata key carrying the correlation ID.
const RequestIDKey = "x-request-id"

// UnaryServerInterceptor admits or rejects each unary call with ctrl.
// Quota state is sent as response header metadata; exhaustion maps to
// ResourceExhausted and every other limiter failure to Internal.
func UnaryServerInterceptor(ctrl *limiter.Controller) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, md := meta.Ensure(ctx)
		in, _ := metadata.FromIncomingContext(ctx)
		if ids := in.Get(RequestIDKey); len(ids) > 0 && ids[0] != "" {
			if _, ok := md.String(meta.RequestID); !ok {
				md.Set(meta.RequestID, ids[0])
			}
		}

		dec, err := ctrl.Admit(ctx, &request{method: info.FullMethod, in: in, md: md})
		if err != nil {
			return nil, toStatus(ctx, err)
		}
		if !dec.Skipped {
			sendQuota(ctx, dec.Quota)
		}
		return handler(ctx, req)
	}
}

// request adapts incoming gRPC metadata to limiter.Request.
type request struct {
	method string
	in     metadata.MD
	md     *meta.Metadata
}

func (q *request) Attribute(name string) (string, bool) {
	if v, ok := q.md.String(name); ok && v != "" {
		return v, true
	}
	if name == meta.RouteEndpoint && q.method != "" {
		return q.method, true
	}
	return "", false
}

func (q *request) HasHeader(name string) bool {
	return len(q.in.Get(name)) > 0
}

func (q *request) HeaderLine(name string) string {
	return strings.Join(q.in.Get(name), ",")
}

func (q *request) CorrelationID() string {
	return q.md.RequestID()
}

func sendQuota(ctx context.Context, quota bucket.Quota) {
	md := metadata.MD{}
	for k, v := range quota.Headers() {
		md.Set(k, v)
	}
	if err := grpc.SetHeader(ctx, md); err != nil {
		log.Debug().Err(err).Msg("failed to set rate limit header metadata")
	}
}

func toStatus(ctx context.Context, err error) error {
	switch {
	case limiter.IsQuotaExceeded(err):
		if quota, ok := limiter.QuotaFromError(err); ok {
			sendQuota(ctx, quota)
		}
		return status.Error(codes.ResourceExhausted, err.Error())
	case limiter.IsConfigError(err):
		log.Error().Err(err).Msg("rate limit misconfigured")
	default:
		log.Error().Err(err).Msg("rate limit check failed")
	}
	return status.Error(codes.Internal, "internal server error")
}
