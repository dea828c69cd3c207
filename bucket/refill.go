package bucket

import "math"

// Refill advances state to now (unix seconds) according to spec and
// returns the new state. It never fails: a negative elapsed time (clock
// skew) adds nothing, and the result is clamped to spec.TotalTokens.
//
// Continuous buckets add round(rate*elapsed) tokens and always move the
// anchor to now. Discrete buckets add NewTokens per whole window and only
// move the anchor once at least one window has passed, so partial windows
// keep accumulating.
func Refill(state State, spec Spec, now int64) State {
	if spec.NewTokensWindow <= 0 {
		return state
	}

	if state.Remaining < 0 {
		state.Remaining = 0
	}

	elapsed := now - state.UpdatedAt
	if elapsed < 0 {
		elapsed = 0
	}

	if spec.Continuous {
		added := math.Round(spec.Rate() * float64(elapsed))
		state.Remaining = addTokens(state.Remaining, added, spec.TotalTokens)
		state.UpdatedAt = now
	} else {
		periods := elapsed / spec.NewTokensWindow
		added := float64(spec.NewTokens) * float64(periods)
		state.Remaining = addTokens(state.Remaining, added, spec.TotalTokens)
		if periods >= 1 {
			state.UpdatedAt = now
		}
	}

	return state
}

// addTokens adds n to remaining, saturating at capacity. The addition is
// done in float64 so a huge elapsed time cannot overflow int64.
func addTokens(remaining int64, n float64, capacity int64) int64 {
	total := float64(remaining) + n
	if total >= float64(capacity) {
		return capacity
	}
	return int64(total)
}
