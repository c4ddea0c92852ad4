package pipeline

// State is the position of one install attempt in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateTransferring
	StateCommitting
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateTransferring:
		return "transferring"
	case StateCommitting:
		return "committing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}
