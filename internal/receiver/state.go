package receiver

type State int

const (
	Idle State = iota
	Connecting
	Open
	ClosedByError
	Stopped
	GivenUp
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedByError:
		return "closedByError"
	case Stopped:
		return "stopped"
	case GivenUp:
		return "givenUp"
	default:
		return "unknown"
	}
}
