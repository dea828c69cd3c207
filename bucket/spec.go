// Package bucket holds the token-bucket model: the immutable policy (Spec),
// the per-caller counters (State), the refill arithmetic and the quota
// metadata derived from both.
package bucket

import (
	"errors"
	"fmt"
)

// Reference defaults for a bucket built without explicit values.
const (
	DefaultTotalTokens     = 800
	DefaultNewTokens       = 400
	DefaultNewTokensWindow = 60
	DefaultContinuous      = true
)

var (
	// ErrInvalidWindow is returned when a spec has a non-positive refill window.
	ErrInvalidWindow = errors.New("bucket: new tokens window must be positive")
	// ErrNegativeTokens is returned when a spec has a negative token count.
	ErrNegativeTokens = errors.New("bucket: token counts must not be negative")
)

// Spec describes one quota policy. It is created at startup and shared
// read-only between requests; runtime counters live in State.
type Spec struct {
	TotalTokens     int64 `yaml:"total_tokens"`      // capacity, remaining never exceeds it
	NewTokens       int64 `yaml:"new_tokens"`        // tokens granted per window
	NewTokensWindow int64 `yaml:"new_tokens_window"` // window length in seconds
	Continuous      bool  `yaml:"continuous"`        // drip per second instead of a batch per window
}

// NewSpec creates a Spec with the given capacity and refill policy.
func NewSpec(totalTokens, newTokens, newTokensWindow int64, continuous bool) Spec {
	return Spec{
		TotalTokens:     totalTokens,
		NewTokens:       newTokens,
		NewTokensWindow: newTokensWindow,
		Continuous:      continuous,
	}
}

// DefaultSpec returns 800 tokens refilled continuously at 400 per minute.
func DefaultSpec() Spec {
	return NewSpec(DefaultTotalTokens, DefaultNewTokens, DefaultNewTokensWindow, DefaultContinuous)
}

// Validate checks the invariants the refill arithmetic relies on.
func (s Spec) Validate() error {
	if s.NewTokensWindow <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, s.NewTokensWindow)
	}
	if s.TotalTokens < 0 || s.NewTokens < 0 {
		return fmt.Errorf("%w: total=%d new=%d", ErrNegativeTokens, s.TotalTokens, s.NewTokens)
	}
	return nil
}

// Rate returns the refill rate in tokens per second.
func (s Spec) Rate() float64 {
	if s.NewTokensWindow <= 0 {
		return 0
	}
	return float64(s.NewTokens) / float64(s.NewTokensWindow)
}

// NewState returns the counters a caller starts with: zero remaining
// tokens and no refill anchor.
func (s Spec) NewState() State {
	return State{}
}

func (s Spec) String() string {
	mode := "discrete"
	if s.Continuous {
		mode = "continuous"
	}
	return fmt.Sprintf("%d tokens, %d per %ds (%s)", s.TotalTokens, s.NewTokens, s.NewTokensWindow, mode)
}
