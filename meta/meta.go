// Package meta carries request-scoped attributes through a context.Context.
// Routers record the matched endpoint here, and the rate limiter reads it
// back together with the resolved caller identity and the request ID.
package meta

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Well-known attribute names.
const (
	// RouteEndpoint is the attribute routers use for the matched endpoint.
	RouteEndpoint = "routeEndpoint"
	// Identity holds the caller identity once it has been resolved.
	Identity = "X-Meta-Identity"
	// RequestID holds the correlation ID of the request.
	RequestID = "X-Meta-Request-ID"
)

// metadataKey is the private context key for *Metadata.
type metadataKey struct{}

// Metadata is a concurrency-safe attribute bag attached to one request.
type Metadata struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates an empty Metadata.
func New() *Metadata {
	return &Metadata{
		data: make(map[string]any),
	}
}

// Set adds or replaces an attribute.
func (m *Metadata) Set(key string, value any) {
	if m == nil {
		log.Error().Str("key", key).Msg("attempted to set attribute on nil metadata")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		m.data = make(map[string]any)
	}
	m.data[key] = value
	log.Trace().Str("key", key).Any("value", value).Msg("request attribute set")
}

// Get returns an attribute and whether it was present.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	return value, ok
}

// String returns a string attribute. Missing, nil and non-string values
// report false.
func (m *Metadata) String(key string) (string, bool) {
	value, ok := m.Get(key)
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}

// RequestID returns the correlation ID, generating and storing one the
// first time it is asked for.
func (m *Metadata) RequestID() string {
	if m == nil {
		return ""
	}
	if id, ok := m.String(RequestID); ok && id != "" {
		return id
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.data[RequestID].(string); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	m.data[RequestID] = id
	return id
}

// WithContext returns a copy of ctx carrying m.
func (m *Metadata) WithContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if m == nil {
		log.Warn().Msg("attempted to attach nil metadata to context")
		return ctx
	}
	return context.WithValue(ctx, metadataKey{}, m)
}

// FromContext returns the Metadata attached to ctx, if any.
func FromContext(ctx context.Context) (*Metadata, bool) {
	if ctx == nil {
		return nil, false
	}
	md, ok := ctx.Value(metadataKey{}).(*Metadata)
	return md, ok && md != nil
}

// Ensure returns the Metadata attached to ctx, attaching a new one when
// there is none. The returned context must be used from then on.
func Ensure(ctx context.Context) (context.Context, *Metadata) {
	if md, ok := FromContext(ctx); ok {
		return ctx, md
	}
	md := New()
	return md.WithContext(ctx), md
}

// Get returns the attribute key from the Metadata in ctx as a T.
func Get[T any](ctx context.Context, key string) (t T, err error) {
	md, ok := FromContext(ctx)
	if !ok {
		err = fmt.Errorf("meta: no metadata in context")
		return
	}

	raw, ok := md.Get(key)
	if !ok {
		err = fmt.Errorf("meta: key '%s' not found in context metadata", key)
		return
	}

	typed, ok := raw.(T)
	if !ok {
		err = fmt.Errorf("meta: value for key '%s' has type %T, but type %T was requested", key, raw, *new(T))
		return
	}
	return typed, nil
}
