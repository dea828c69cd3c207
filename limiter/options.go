package limiter

import (
	"time"

	"github.com/rs/zerolog"
)

// Observer is told about every admission outcome.
type Observer interface {
	Admitted(resource string)
	Rejected(resource string)
	Skipped(resource string)
}

// nopObserver keeps the hot path free of nil checks.
type nopObserver struct{}

func (nopObserver) Admitted(string) {}
func (nopObserver) Rejected(string) {}
func (nopObserver) Skipped(string)  {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger replaces the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithResolver replaces the header based identity resolver.
func WithResolver(r Resolver) Option {
	return func(c *Controller) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithObserver reports admission outcomes to o, e.g. a metrics collector.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLocker serializes the read-modify-write of each bucket with a lock
// obtained from fn. Without it concurrent requests for the same bucket
// can over-admit.
func WithLocker(fn LockFunc) Option {
	return func(c *Controller) {
		c.lock = fn
	}
}
