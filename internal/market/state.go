package market

// State is the lifecycle of one (artist, timeframe) selection.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSubscribed
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

var transitions = map[State][]State{
	StateIdle:         {StateLoading},
	StateLoading:      {StateLoading, StateSubscribed, StateReconnecting, StateError, StateIdle},
	StateSubscribed:   {StateLoading, StateReconnecting, StateError, StateIdle},
	StateReconnecting: {StateLoading, StateReconnecting, StateError, StateIdle},
	StateError:        {StateLoading, StateReconnecting, StateIdle},
}

// CanTransition reports whether the controller may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
