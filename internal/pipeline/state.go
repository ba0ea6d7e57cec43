package pipeline

import "fmt"

// State is the lifecycle position of one pipeline run
type State int

const (
	StateIdle State = iota
	StateRecognizing
	StateAwaitingAgent
	StateStreamingAgent
	StateCompleting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecognizing:
		return "recognizing"
	case StateAwaitingAgent:
		return "awaiting_agent"
	case StateStreamingAgent:
		return "streaming_agent"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:           {StateRecognizing, StateFailed},
	StateRecognizing:    {StateAwaitingAgent, StateFailed},
	StateAwaitingAgent:  {StateStreamingAgent, StateFailed},
	StateStreamingAgent: {StateCompleting, StateFailed},
	StateCompleting:     {StateDone, StateFailed},
}

// CanTransition reports whether from → to is in the transition table
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IllegalTransitionError is a programming error in the run sequence
type IllegalTransitionError struct {
	From, To State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal pipeline transition %s -> %s", e.From, e.To)
}

type stateMachine struct {
	current State
}

func (m *stateMachine) transition(to State) error {
	if !CanTransition(m.current, to) {
		return &IllegalTransitionError{From: m.current, To: to}
	}
	m.current = to
	return nil
}
