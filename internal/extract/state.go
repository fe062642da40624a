package extract

// State is a step of the per-document extraction state machine.
type State int

const (
	StatePending State = iota
	StatePrompting
	StateAwaitingCompletion
	StateParsing
	StateValidating
	StateRetrying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePrompting:
		return "prompting"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateParsing:
		return "parsing"
	case StateValidating:
		return "validating"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
