package supervisor

// State is the persisted lifecycle state of a supervised container.
type State string

const (
	// StateStarting is the default: the container is booting, or nothing
	// has been observed yet. A fresh instance with no persisted state is
	// treated as starting.
	StateStarting State = "starting"
	// StateRunning means the last health probe got a 2xx response.
	StateRunning State = "running"
	// StateUnhealthy means the container answered the probe with a
	// non-2xx status: alive but degraded.
	StateUnhealthy State = "unhealthy"
	// StateStopped means the process exited cleanly.
	StateStopped State = "stopped"
	// StateFailed means the process crashed or probing hit a fatal
	// transport error. Leaving failed requires an explicit Start.
	StateFailed State = "failed"
)

// StateKey is the store key holding the lifecycle state.
const StateKey = "state"

var knownStates = map[State]bool{
	StateStarting:  true,
	StateRunning:   true,
	StateUnhealthy: true,
	StateStopped:   true,
	StateFailed:    true,
}

// Valid reports whether s is one of the five lifecycle states.
func (s State) Valid() bool {
	return knownStates[s]
}

// ParseState maps a persisted value back to a State. Unknown or empty values
// fall back to starting, the same default as an absent key.
func ParseState(value string) State {
	s := State(value)
	if !s.Valid() {
		return StateStarting
	}
	return s
}

// transitionForProbe maps one probe outcome to the next lifecycle state.
//
//	Ok            -> running
//	NotListening  -> starting
//	NoContainer   -> starting
//	HTTP non-2xx  -> unhealthy
//	generic error -> failed, unless currently starting (cold-start grace)
func transitionForProbe(current State, result ProbeResult) State {
	switch result.Outcome {
	case ProbeOK:
		return StateRunning
	case ProbeNotListening, ProbeNoContainer:
		return StateStarting
	case ProbeHTTPError:
		return StateUnhealthy
	default:
		if current == StateStarting {
			return StateStarting
		}
		return StateFailed
	}
}

// transitionForExit maps a clean process exit to the next state. The second
// return is false when no transition applies (the exit is informational
// only). A crash never consults this table: it is unconditionally failed.
func transitionForExit(current State) (State, bool) {
	switch current {
	case StateRunning, StateUnhealthy:
		return StateStopped, true
	default:
		// starting: the process exited before the first successful
		// probe; the tick loop will re-derive the truth.
		// failed/stopped: nothing to do.
		return current, false
	}
}
