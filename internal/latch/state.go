package latch

// State is the controller's composite relay state.
type State int

const (
	// StateClosedCool is idle: relay de-energized and ready to open.
	StateClosedCool State = iota

	// StateOpenHot is unlocked, counting down the hold time.
	StateOpenHot

	// StateClosedHot is relocked, counting down the cooldown.
	StateClosedHot

	// StateFailed is terminal: the relay did not energize in time.
	StateFailed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateClosedCool:
		return "closed/cool"
	case StateOpenHot:
		return "open/hot"
	case StateClosedHot:
		return "closed/hot"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Open reports whether the relay is energized in s.
func (s State) Open() bool { return s == StateOpenHot }

// Hot reports whether s refuses a new open cycle.
func (s State) Hot() bool { return s == StateOpenHot || s == StateClosedHot }
