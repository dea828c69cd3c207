package bucket

import (
	"math"
	"strconv"
)

// Response header names carrying the quota state.
const (
	HeaderLimit     = "X-Rate-Limit-Limit"
	HeaderRemaining = "X-Rate-Limit-Remaining"
	HeaderWindow    = "X-Rate-Limit-Window"
	HeaderNew       = "X-Rate-Limit-New"
)

// Quota is the caller-facing view of a bucket after a decision.
type Quota struct {
	Limit     int64 // bucket capacity
	Remaining int64 // tokens left after this request
	Window    int64 // seconds per refill unit, 1 for continuous buckets
	New       int64 // tokens granted per Window
}

// HeaderSetter is anything headers can be set on, e.g. http.Header.
type HeaderSetter interface {
	Set(key, value string)
}

// Annotate derives the quota metadata for spec and the post-decision state.
func Annotate(spec Spec, state State) Quota {
	q := Quota{
		Limit:     spec.TotalTokens,
		Remaining: state.Remaining,
	}
	if spec.Continuous {
		q.Window = 1
		q.New = RatePerSecond(spec)
	} else {
		q.Window = spec.NewTokensWindow
		q.New = spec.NewTokens
	}
	return q
}

// RatePerSecond is the continuous refill rate rounded half away from zero.
func RatePerSecond(spec Spec) int64 {
	return int64(math.Round(spec.Rate()))
}

// Headers returns the quota as header name/value pairs.
func (q Quota) Headers() map[string]string {
	return map[string]string{
		HeaderLimit:     strconv.FormatInt(q.Limit, 10),
		HeaderRemaining: strconv.FormatInt(q.Remaining, 10),
		HeaderWindow:    strconv.FormatInt(q.Window, 10),
		HeaderNew:       strconv.FormatInt(q.New, 10),
	}
}

// Apply sets the quota headers on h.
func (q Quota) Apply(h HeaderSetter) {
	for k, v := range q.Headers() {
		h.Set(k, v)
	}
}
