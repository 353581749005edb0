package domain

type TurnState int

const (
	TurnComposing TurnState = iota
	TurnDispatched
	TurnStreaming
	TurnFinalizing
	TurnCompleted
	TurnFailed
	TurnCancelled
)

func (s TurnState) String() string {
	switch s {
	case TurnComposing:
		return "composing"
	case TurnDispatched:
		return "dispatched"
	case TurnStreaming:
		return "streaming"
	case TurnFinalizing:
		return "finalizing"
	case TurnCompleted:
		return "completed"
	case TurnFailed:
		return "failed"
	case TurnCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether a turn in this state is finished.
func (s TurnState) Terminal() bool {
	switch s {
	case TurnCompleted, TurnFailed, TurnCancelled:
		return true
	default:
		return false
	}
}

var validTurnTransitions = map[TurnState][]TurnState{
	TurnComposing:  {TurnDispatched, TurnCancelled, TurnFailed},
	TurnDispatched: {TurnStreaming, TurnCancelled, TurnFailed},
	TurnStreaming:  {TurnFinalizing, TurnCancelled, TurnFailed},
	TurnFinalizing: {TurnCompleted, TurnCancelled, TurnFailed},
}

func CanTransitionTurn(from, to TurnState) bool {
	allowed, ok := validTurnTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
