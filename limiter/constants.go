package limiter

// Storage types
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Store key prefixes. The sanitized resource and the identity are appended.
const (
	RemainingKeyPrefix = "rateLimit"
	UpdatedKeyPrefix   = "rateLimitUpdated"
	LockKeyPrefix      = "rateLimitLock"
)

// DefaultResourceAttribute is the request attribute the router stores the
// matched endpoint under.
const DefaultResourceAttribute = "routeEndpoint"
