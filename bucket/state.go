package bucket

// State holds the runtime counters for one (resource, identity) pair.
// The external store owns it; a request works on a copy and writes it back.
type State struct {
	Remaining int64 // tokens left; an absent store value reads as 0
	UpdatedAt int64 // unix seconds of the last refill; absent reads as 0
}

// Take consumes one token if any is left and reports whether it did.
func (st *State) Take() bool {
	if st.Remaining <= 0 {
		return false
	}
	st.Remaining--
	return true
}
