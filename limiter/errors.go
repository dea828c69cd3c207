package limiter

import (
	"errors"
	"fmt"

	"github.com/toolink/ratelimit/bucket"
)

// Kind classifies limiter errors so callers can map them to an outcome
// without type switches on the cause.
type Kind int

const (
	// KindConfig means the limiter is not wired correctly; map to a server error.
	KindConfig Kind = iota + 1
	// KindQuotaExceeded means the caller ran out of tokens; map to "too many requests".
	KindQuotaExceeded
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

var (
	// ErrNoResource is returned when the router did not attach a matched endpoint.
	ErrNoResource = errors.New("rate limit could not find a matched endpoint from the router, make sure the resource attribute name is correct")
	// ErrNoBucket is returned when neither a matching nor a default bucket is configured.
	ErrNoBucket = errors.New("rate limit needs at least one (default) bucket to work")
	// ErrNoStore is returned when the limiter has nowhere to keep its counters.
	ErrNoStore = errors.New("rate limit needs a cache to work")
	// ErrQuotaExceeded is matched by every quota exhaustion error.
	ErrQuotaExceeded = errors.New("rate limit exceeded")
)

// Error is the tagged error returned by the limiter.
type Error struct {
	Kind    Kind
	Message string
	// Quota is set on KindQuotaExceeded errors so transports can still
	// report the bucket state to the rejected caller.
	Quota *bucket.Quota

	err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// configError builds a KindConfig error around one of the sentinels above.
// cause, if any, stays reachable through errors.Is/As.
func configError(sentinel, cause error) *Error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &Error{
		Kind:    KindConfig,
		Message: sentinel.Error(),
		err:     err,
	}
}

func quotaExceeded(spec bucket.Spec, quota bucket.Quota) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Message: exhaustedMessage(spec),
		Quota:   &quota,
		err:     ErrQuotaExceeded,
	}
}

// exhaustedMessage tells the caller how fast tokens come back.
func exhaustedMessage(spec bucket.Spec) string {
	if spec.Continuous {
		return fmt.Sprintf("You've run out of request tokens. You receive %d new tokens every second.", bucket.RatePerSecond(spec))
	}
	return fmt.Sprintf("You've run out of request tokens. You receive %d new tokens every %d seconds.", spec.NewTokens, spec.NewTokensWindow)
}

// IsConfigError reports whether err means the limiter is miswired.
func IsConfigError(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindConfig
}

// IsQuotaExceeded reports whether err is a quota exhaustion.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// QuotaFromError returns the bucket state carried by a quota exhaustion error.
func QuotaFromError(err error) (bucket.Quota, bool) {
	var le *Error
	if errors.As(err, &le) && le.Quota != nil {
		return *le.Quota, true
	}
	return bucket.Quota{}, false
}
