// Package optimistic implements the bookkeeping behind optimistic toggles:
// the (value, count) pair that flips locally, the per-entity in-flight flag
// and the version tickets used to discard superseded responses.
//
// A Tracker is not safe for concurrent use; it is meant to be guarded by the
// mutex of the store that owns it.
package optimistic

import "errors"

// ErrInFlight is returned when a toggle is requested for an entity whose
// previous toggle has not settled.
var ErrInFlight = errors.New("another update for this item is still in progress")

// State is the observable pair a toggle moves in lockstep.
type State struct {
	On    bool
	Count int
}

// Flip returns the optimistic successor: the flag inverted and the count
// moved by one in the same direction. Counts never go below zero.
func (s State) Flip() State {
	next := State{On: !s.On, Count: s.Count}
	if next.On {
		next.Count++
	} else if next.Count > 0 {
		next.Count--
	}
	return next
}

// Reconcile overlays whatever the server reported on the optimistic state.
// A nil field means the server did not say and the optimistic value stands.
func Reconcile(optimistic State, on *bool, count *int) State {
	out := optimistic
	if on != nil {
		out.On = *on
	}
	if count != nil {
		out.Count = max(*count, 0)
	}
	return out
}

// Ticket identifies one toggle attempt.
type Ticket struct {
	Key     string
	Version uint64
	// Prev is the state captured before the optimistic write.
	Prev State
	// Next is the optimistic state that was applied.
	Next State
}

// Tracker records in-flight toggles and per-entity write versions.
type Tracker struct {
	versions map[string]uint64
	inFlight map[string]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		versions: make(map[string]uint64),
		inFlight: make(map[string]uint64),
	}
}

// Begin registers a toggle from prev. It fails with ErrInFlight while an
// earlier toggle on the same key is unsettled.
func (t *Tracker) Begin(key string, prev State) (Ticket, error) {
	if _, busy := t.inFlight[key]; busy {
		return Ticket{}, ErrInFlight
	}
	t.versions[key]++
	v := t.versions[key]
	t.inFlight[key] = v
	return Ticket{Key: key, Version: v, Prev: prev, Next: prev.Flip()}, nil
}

// Pending reports whether a toggle on key is in flight.
func (t *Tracker) Pending(key string) bool {
	_, busy := t.inFlight[key]
	return busy
}

// Current reports whether tk is still the latest write for its key.
func (t *Tracker) Current(tk Ticket) bool {
	return t.versions[tk.Key] == tk.Version
}

// Finish settles tk and reports whether its response may be applied.
func (t *Tracker) Finish(tk Ticket) bool {
	if v, ok := t.inFlight[tk.Key]; ok && v == tk.Version {
		delete(t.inFlight, tk.Key)
	}
	return t.Current(tk)
}

// Invalidate supersedes any outstanding ticket for key, e.g. when the entity
// is deleted.
func (t *Tracker) Invalidate(key string) {
	t.versions[key]++
	delete(t.inFlight, key)
}

// Reset forgets every key.
func (t *Tracker) Reset() {
	for k := range t.inFlight {
		t.versions[k]++
	}
	clear(t.inFlight)
}
