package session

// State is the lifecycle position of one transfer session.
type State int

const (
	StateIdle State = iota
	StateMetadataSent
	StateSending
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMetadataSent:
		return "metadata_sent"
	case StateSending:
		return "sending"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
