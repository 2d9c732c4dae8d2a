package expect

// State is the state of a wait. Waiting is the only
// non-terminal state.
type State int

const (
	// Waiting means no outcome has been reached yet.
	Waiting State = iota
	// Found means a line contained the expected text.
	Found
	// Stalled means the process stayed alive but logged
	// nothing for the whole stall timeout.
	Stalled
	// ProcessExited means the process stopped before the
	// expected text appeared.
	ProcessExited
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Found:
		return "found"
	case Stalled:
		return "stalled"
	case ProcessExited:
		return "process_exited"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a wait.
func (s State) Terminal() bool {
	return s != Waiting
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
