package vm

// State is the run state of a VM.
type State uint8

const (
	StateRunning State = iota // Initial state; also kept when execution runs off the end
	StateHalted               // HLT executed
	StateErrored              // A recoverable fault stopped execution
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}
