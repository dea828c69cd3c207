package limiter

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolink/ratelimit/bucket"
	"github.com/toolink/ratelimit/meta"
)

const (
	pageEndpoint = `\Phapi\Tests\Page`
	remainingKey = "rateLimitPhapiTestsPagephapi"
	updatedKey   = "rateLimitUpdatedPhapiTestsPagephapi"
)

var fixedNow = time.Unix(1_700_000_000, 0)

type fakeRequest struct {
	attrs   map[string]string
	headers map[string]string
	id      string
}

func (r *fakeRequest) Attribute(name string) (string, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

func (r *fakeRequest) HasHeader(name string) bool {
	_, ok := r.headers[name]
	return ok
}

func (r *fakeRequest) HeaderLine(name string) string { return r.headers[name] }

func (r *fakeRequest) CorrelationID() string { return r.id }

func newRequest(endpoint, client string) *fakeRequest {
	req := &fakeRequest{
		attrs:   map[string]string{DefaultResourceAttribute: endpoint},
		headers: map[string]string{},
		id:      "U-u-i-d",
	}
	if client != "" {
		req.headers["Client-ID"] = client
	}
	return req
}

// recordingStore is a map store that remembers every access.
type recordingStore struct {
	data map[string]int64
	gets []string
	sets []string
	err  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{data: map[string]int64{}}
}

func (s *recordingStore) Get(_ context.Context, key string) (int64, bool, error) {
	s.gets = append(s.gets, key)
	if s.err != nil {
		return 0, false, s.err
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *recordingStore) Set(_ context.Context, key string, value int64) error {
	s.sets = append(s.sets, key)
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}

type countingObserver struct {
	admitted, rejected, skipped int
}

func (o *countingObserver) Admitted(string) { o.admitted++ }
func (o *countingObserver) Rejected(string) { o.rejected++ }
func (o *countingObserver) Skipped(string)  { o.skipped++ }

func testConfig(buckets map[string]bucket.Spec) *Config {
	return &Config{
		StorageType:      StorageMemory,
		IdentifierHeader: "Client-ID",
		Buckets:          buckets,
	}
}

func defaultBuckets() map[string]bucket.Spec {
	return map[string]bucket.Spec{
		bucket.DefaultKey: bucket.DefaultSpec(),
		pageEndpoint:      bucket.NewSpec(800, 60, 10, false),
	}
}

func newTestController(t *testing.T, buckets map[string]bucket.Spec, store Store, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	c, err := NewController(testConfig(buckets), store, opts...)
	require.NoError(t, err)
	return c
}

func TestAdmitMatchedBucket(t *testing.T) {
	store := newRecordingStore()
	c := newTestController(t, defaultBuckets(), store)

	dec, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.NoError(t, err)
	assert.False(t, dec.Skipped)
	assert.Equal(t, "phapi", dec.Identity)
	assert.Equal(t, bucket.Quota{Limit: 800, Remaining: 799, Window: 10, New: 60}, dec.Quota)

	assert.Equal(t, []string{remainingKey, updatedKey}, store.gets)
	assert.Equal(t, []string{remainingKey, updatedKey}, store.sets)
	assert.Equal(t, int64(799), store.data[remainingKey])
	assert.Equal(t, fixedNow.Unix(), store.data[updatedKey])
}

func TestAdmitDefaultBucket(t *testing.T) {
	store := newRecordingStore()
	c := newTestController(t, map[string]bucket.Spec{bucket.DefaultKey: bucket.DefaultSpec()}, store)

	dec, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.NoError(t, err)
	assert.Equal(t, bucket.Quota{Limit: 800, Remaining: 799, Window: 1, New: 7}, dec.Quota)
	assert.Equal(t, map[string]string{
		"X-Rate-Limit-Limit":     "800",
		"X-Rate-Limit-Remaining": "799",
		"X-Rate-Limit-Window":    "1",
		"X-Rate-Limit-New":       "7",
	}, dec.Quota.Headers())
	assert.Equal(t, int64(799), store.data[remainingKey])
}

func TestAdmitConsumesOneTokenPerRequest(t *testing.T) {
	store := newRecordingStore()
	c := newTestController(t, map[string]bucket.Spec{bucket.DefaultKey: bucket.NewSpec(3, 1, 60, false)}, store)
	ctx := context.Background()

	for want := int64(2); want >= 0; want-- {
		dec, err := c.Admit(ctx, newRequest("Page", "phapi"))
		require.NoError(t, err)
		assert.Equal(t, want, dec.Quota.Remaining)
	}

	_, err := c.Admit(ctx, newRequest("Page", "phapi"))
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.Equal(t, "You've run out of request tokens. You receive 1 new tokens every 60 seconds.", err.Error())

	// another identity has its own bucket
	dec, err := c.Admit(ctx, newRequest("Page", "other"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), dec.Quota.Remaining)
}

func TestAdmitNoTokensContinuous(t *testing.T) {
	store := newRecordingStore()
	store.data[remainingKey] = 0
	store.data[updatedKey] = fixedNow.Unix()
	buckets := defaultBuckets()
	buckets[pageEndpoint] = bucket.NewSpec(800, 60, 10, true)
	obs := &countingObserver{}
	c := newTestController(t, buckets, store, WithObserver(obs))

	_, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.Error(t, err)
	assert.Equal(t, "You've run out of request tokens. You receive 6 new tokens every second.", err.Error())
	assert.True(t, IsQuotaExceeded(err))
	assert.False(t, IsConfigError(err))

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, KindQuotaExceeded, le.Kind)

	quota, ok := QuotaFromError(err)
	require.True(t, ok)
	assert.Equal(t, bucket.Quota{Limit: 800, Remaining: 0, Window: 1, New: 6}, quota)

	assert.Empty(t, store.sets, "rejected requests are not persisted")
	assert.Equal(t, int64(0), store.data[remainingKey])
	assert.Equal(t, 1, obs.rejected)
}

func TestAdmitNoTokensDiscrete(t *testing.T) {
	store := newRecordingStore()
	store.data[remainingKey] = 0
	store.data[updatedKey] = fixedNow.Unix()
	c := newTestController(t, defaultBuckets(), store)

	_, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.Error(t, err)
	assert.Equal(t, "You've run out of request tokens. You receive 60 new tokens every 10 seconds.", err.Error())
	assert.Empty(t, store.sets)
}

func TestAdmitRefillsAfterWindow(t *testing.T) {
	store := newRecordingStore()
	store.data[remainingKey] = 0
	store.data[updatedKey] = fixedNow.Unix() - 25
	c := newTestController(t, defaultBuckets(), store)

	dec, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.NoError(t, err)
	assert.Equal(t, int64(119), dec.Quota.Remaining)
	assert.Equal(t, fixedNow.Unix(), store.data[updatedKey])
}

func TestAdmitNoEndpoint(t *testing.T) {
	store := newRecordingStore()
	c := newTestController(t, defaultBuckets(), store)

	req := newRequest(pageEndpoint, "phapi")
	delete(req.attrs, DefaultResourceAttribute)

	_, err := c.Admit(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResource)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, "rate limit could not find a matched endpoint from the router, make sure the resource attribute name is correct", err.Error())
	assert.Empty(t, store.gets)
}

func TestAdmitCustomResourceAttribute(t *testing.T) {
	cfg := testConfig(defaultBuckets())
	cfg.ResourceAttribute = "endpoint"
	c, err := NewController(cfg, newRecordingStore())
	require.NoError(t, err)

	req := newRequest(pageEndpoint, "phapi")
	_, err = c.Admit(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoResource)

	req.attrs["endpoint"] = pageEndpoint
	_, err = c.Admit(context.Background(), req)
	assert.NoError(t, err)
}

func TestAdmitNoMatchingBucket(t *testing.T) {
	c := newTestController(t, map[string]bucket.Spec{"Other": bucket.DefaultSpec()}, newRecordingStore())

	_, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBucket)
	assert.ErrorIs(t, err, bucket.ErrNoBucket)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, "rate limit needs at least one (default) bucket to work", err.Error())
}

func TestNewControllerNoBuckets(t *testing.T) {
	_, err := NewController(testConfig(map[string]bucket.Spec{}), NewMemoryStore())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoBucket)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, "rate limit needs at least one (default) bucket to work", err.Error())
}

func TestNewControllerNoStore(t *testing.T) {
	for name, store := range map[string]Store{
		"nil":       nil,
		"nop":       NopStore{},
		"nop value": &NopStore{},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewController(testConfig(defaultBuckets()), store)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNoStore)
			assert.True(t, IsConfigError(err))
			assert.Equal(t, "rate limit needs a cache to work", err.Error())
		})
	}
}

func TestNewControllerInvalidSpec(t *testing.T) {
	_, err := NewController(testConfig(map[string]bucket.Spec{bucket.DefaultKey: bucket.NewSpec(10, 1, 0, true)}), NewMemoryStore())
	assert.ErrorIs(t, err, bucket.ErrInvalidWindow)
}

func TestAdmitNoIdentifier(t *testing.T) {
	var buf bytes.Buffer
	store := newRecordingStore()
	obs := &countingObserver{}
	c := newTestController(t, defaultBuckets(), store, WithLogger(zerolog.New(&buf)), WithObserver(obs))

	dec, err := c.Admit(context.Background(), newRequest(pageEndpoint, ""))
	require.NoError(t, err)
	assert.True(t, dec.Skipped)
	assert.Equal(t, bucket.Quota{}, dec.Quota)
	assert.Empty(t, store.gets)
	assert.Empty(t, store.sets)
	assert.Equal(t, 1, obs.skipped)

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "Request (ID: U-u-i-d) made but without the Client-ID header. Please note that the request was executed as normal.")
}

func TestAdmitEmptyIdentifierHeader(t *testing.T) {
	c := newTestController(t, defaultBuckets(), newRecordingStore(), WithLogger(zerolog.Nop()))
	req := newRequest(pageEndpoint, "")
	req.headers["Client-ID"] = ""

	dec, err := c.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, dec.Skipped)
}

func TestIdentityResolvedOncePerRequest(t *testing.T) {
	calls := 0
	resolver := ResolverFunc(func(req Request) string {
		calls++
		return req.HeaderLine("Client-ID")
	})
	c := newTestController(t, defaultBuckets(), NewMemoryStore(), WithResolver(resolver))

	ctx, md := meta.Ensure(context.Background())
	req := newRequest(pageEndpoint, "phapi")

	_, err := c.Admit(ctx, req)
	require.NoError(t, err)
	_, err = c.Admit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	id, ok := md.String(meta.Identity)
	assert.True(t, ok)
	assert.Equal(t, "phapi", id)
}

func TestAdmitStoreFailure(t *testing.T) {
	boom := errors.New("connection refused")
	store := newRecordingStore()
	store.err = boom
	c := newTestController(t, defaultBuckets(), store)

	_, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsConfigError(err))
	assert.False(t, IsQuotaExceeded(err))
}

type fakeLocker struct {
	events *[]string
	key    string
	err    error
}

func (l *fakeLocker) Lock(context.Context) error {
	*l.events = append(*l.events, "lock "+l.key)
	return l.err
}

func (l *fakeLocker) Unlock(context.Context) error {
	*l.events = append(*l.events, "unlock "+l.key)
	return nil
}

func TestAdmitWithLocker(t *testing.T) {
	var events []string
	lockFn := func(key string) (Locker, error) {
		return &fakeLocker{events: &events, key: key}, nil
	}
	c := newTestController(t, defaultBuckets(), NewMemoryStore(), WithLocker(lockFn))

	_, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"lock rateLimitLockPhapiTestsPagephapi",
		"unlock rateLimitLockPhapiTestsPagephapi",
	}, events)
}

func TestAdmitLockFailure(t *testing.T) {
	var events []string
	boom := errors.New("lock held")
	lockFn := func(key string) (Locker, error) {
		return &fakeLocker{events: &events, key: key, err: boom}, nil
	}
	store := newRecordingStore()
	c := newTestController(t, defaultBuckets(), store, WithLocker(lockFn))

	_, err := c.Admit(context.Background(), newRequest(pageEndpoint, "phapi"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.gets)
}

func TestSanitizeResource(t *testing.T) {
	assert.Equal(t, "PhapiTestsPage", SanitizeResource(pageEndpoint))
	assert.Equal(t, "usersidposts", SanitizeResource("/users/{id}/posts"))
	assert.Equal(t, "", SanitizeResource("::"))
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "config", KindConfig.String())
	assert.Equal(t, "quota_exceeded", KindQuotaExceeded.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
