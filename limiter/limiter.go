package limiter

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toolink/ratelimit/bucket"
	"github.com/toolink/ratelimit/meta"
)

// unsafeKeyChars matches everything that may not appear in a store key segment.
var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// Decision is the outcome of an admitted (or skipped) request.
type Decision struct {
	Resource string
	Identity string
	// Skipped is true when no identity was found and the request was let
	// through without touching the store.
	Skipped bool
	// Quota is the bucket state after the token was taken. Zero when Skipped.
	Quota bucket.Quota
}

// Controller decides per request whether a caller may proceed, keeping
// one token bucket per (resource, identity) in the Store.
//
// Buckets are read, refilled and written back without any compare-and-swap,
// so concurrent requests for the same bucket may both consume the same
// token unless WithLocker is used.
type Controller struct {
	header    string
	attribute string
	selector  *bucket.Selector
	store     Store
	resolver  Resolver
	logger    zerolog.Logger
	now       func() time.Time
	observer  Observer
	lock      LockFunc
}

// NewController creates a Controller from a validated config. It refuses
// an empty bucket mapping and a missing or null store, so a miswired
// process fails at startup instead of running without limits.
func NewController(cfg *Config, store Store, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rate limit config must not be nil")
	}

	selector, err := bucket.NewSelector(cfg.Buckets)
	if err != nil {
		return nil, configError(ErrNoBucket, err)
	}
	for name, spec := range cfg.Buckets {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("bucket '%s': %w", name, err)
		}
	}

	if isNopStore(store) {
		return nil, configError(ErrNoStore, nil)
	}

	attribute := cfg.ResourceAttribute
	if attribute == "" {
		attribute = DefaultResourceAttribute
	}

	c := &Controller{
		header:    cfg.IdentifierHeader,
		attribute: attribute,
		selector:  selector,
		store:     store,
		resolver:  HeaderResolver{Header: cfg.IdentifierHeader},
		logger:    log.Logger,
		now:       time.Now,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug().Int("buckets", selector.Len()).Str("identifier_header", c.header).Str("resource_attribute", c.attribute).Msg("rate limit controller created")
	return c, nil
}

// Admit runs the admission check for one request.
//
// It returns a Decision when the request may proceed, a KindQuotaExceeded
// *Error when the caller is out of tokens, and a KindConfig *Error when the
// request carries no resource or no bucket applies. Store failures are
// returned wrapped. A request without identity is let through with
// Decision.Skipped set and a warning logged.
func (c *Controller) Admit(ctx context.Context, req Request) (*Decision, error) {
	resource, ok := req.Attribute(c.attribute)
	if !ok || resource == "" {
		c.logger.Error().Str("attribute", c.attribute).Msg("no matched endpoint on request")
		return nil, configError(ErrNoResource, nil)
	}

	spec, err := c.selector.Select(resource)
	if err != nil {
		c.logger.Error().Err(err).Str("resource", resource).Msg("no bucket for resource")
		return nil, configError(ErrNoBucket, err)
	}

	identity := c.identify(ctx, req)
	if identity == "" {
		c.logger.Warn().Str("request_id", req.CorrelationID()).Str("resource", resource).
			Msg(fmt.Sprintf("Request (ID: %s) made but without the %s header. Please note that the request was executed as normal.", req.CorrelationID(), c.header))
		c.observer.Skipped(resource)
		return &Decision{Resource: resource, Skipped: true}, nil
	}

	logCtx := c.logger.With().Str("resource", resource).Str("identity", identity).Logger()

	if c.lock != nil {
		unlock, err := c.acquire(ctx, lockKey(resource, identity))
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	keys := storeKeys(resource, identity)
	state, err := c.load(ctx, keys)
	if err != nil {
		return nil, err
	}

	state = bucket.Refill(state, spec, c.now().Unix())
	logCtx.Debug().Int64("remaining", state.Remaining).Int64("updated_at", state.UpdatedAt).Msg("bucket refilled")

	if !state.Take() {
		quota := bucket.Annotate(spec, state)
		logCtx.Warn().Int64("limit", spec.TotalTokens).Msg("rate limit exceeded")
		c.observer.Rejected(resource)
		return nil, quotaExceeded(spec, quota)
	}

	quota := bucket.Annotate(spec, state)
	if err := c.save(ctx, keys, state); err != nil {
		return nil, err
	}

	logCtx.Debug().Int64("remaining", quota.Remaining).Msg("request admitted")
	c.observer.Admitted(resource)
	return &Decision{
		Resource: resource,
		Identity: identity,
		Quota:    quota,
	}, nil
}

// identify resolves the caller identity at most once per request, caching
// it in the request metadata when the context carries one.
func (c *Controller) identify(ctx context.Context, req Request) string {
	md, hasMeta := meta.FromContext(ctx)
	if hasMeta {
		if id, ok := md.String(meta.Identity); ok && id != "" {
			return id
		}
	}

	id := c.resolver.Resolve(req)
	if id != "" && hasMeta {
		md.Set(meta.Identity, id)
	}
	return id
}

func (c *Controller) acquire(ctx context.Context, key string) (func(), error) {
	locker, err := c.lock(key)
	if err != nil {
		return nil, fmt.Errorf("rate limit lock %s: %w", key, err)
	}
	if err := locker.Lock(ctx); err != nil {
		return nil, fmt.Errorf("rate limit lock %s: %w", key, err)
	}
	return func() {
		// the request context may be gone by now, the lock still has to go
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to release bucket lock")
		}
	}, nil
}

type bucketKeys struct {
	remaining string
	updated   string
}

// load reads the bucket state; absent keys read as zero.
func (c *Controller) load(ctx context.Context, keys bucketKeys) (bucket.State, error) {
	remaining, _, err := c.store.Get(ctx, keys.remaining)
	if err != nil {
		return bucket.State{}, fmt.Errorf("rate limit store: %w", err)
	}
	updated, _, err := c.store.Get(ctx, keys.updated)
	if err != nil {
		return bucket.State{}, fmt.Errorf("rate limit store: %w", err)
	}
	return bucket.State{Remaining: remaining, UpdatedAt: updated}, nil
}

// save writes both counters back as two independent writes.
func (c *Controller) save(ctx context.Context, keys bucketKeys, state bucket.State) error {
	if err := c.store.Set(ctx, keys.remaining, state.Remaining); err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	if err := c.store.Set(ctx, keys.updated, state.UpdatedAt); err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}
	return nil
}

// SanitizeResource strips every character outside [A-Za-z0-9] so the
// resource name is safe to use in a store key.
func SanitizeResource(resource string) string {
	return unsafeKeyChars.ReplaceAllString(resource, "")
}

func storeKeys(resource, identity string) bucketKeys {
	r := SanitizeResource(resource)
	return bucketKeys{
		remaining: RemainingKeyPrefix + r + identity,
		updated:   UpdatedKeyPrefix + r + identity,
	}
}

func lockKey(resource, identity string) string {
	return LockKeyPrefix + SanitizeResource(resource) + identity
}
