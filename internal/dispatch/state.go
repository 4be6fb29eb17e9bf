package dispatch

// State is the capture/processing state owned by the dispatcher loop.
type State int32

const (
	Idle State = iota
	Listening
	Processing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
