package pipeline

// State is the lifecycle state of a Pipeline.
type State int32

const (
	Untrained State = iota
	Training
	Ready
	// Failed means the last training attempt failed. Queries still succeed
	// but never match.
	Failed
)

func (s State) String() string {
	switch s {
	case Untrained:
		return "untrained"
	case Training:
		return "training"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
