package ota

// Feedback codes published by devices on their feedback topic.
const (
	FeedbackReady   = "ready"
	FeedbackOK      = "ok"
	FeedbackSuccess = "success"
)

// ActionKind identifies what an Action publishes.
type ActionKind int

const (
	// ActionSendSize publishes the 4-byte total image size.
	ActionSendSize ActionKind = iota
	// ActionSendChunk publishes one chunk frame.
	ActionSendChunk
)

// Action is an outbound publish requested by a transition.
type Action struct {
	Kind  ActionKind
	Chunk int // chunk index for ActionSendChunk
}

// Transition is the outcome of applying one feedback code to a device.
type Transition struct {
	// Next is the state to store for the device.
	Next DeviceState

	// Actions are the publishes to perform, in order.
	Actions []Action

	// Reported is true when the feedback was an error report. Report holds
	// its raw text, which may be empty.
	Reported bool
	Report   string

	// Finished is true when this step marked the device finished.
	Finished bool

	// Registered is true when this step created the device's entry.
	Registered bool
}

// Step applies feedback code to a device's current state. current is nil for
// a device that has no registry entry. totalChunks is the size of the chunk
// table. Step has no side effects.
func Step(current *DeviceState, deviceID, code string, totalChunks int) (Transition, error) {
	if code == FeedbackReady {
		var next DeviceState
		if current != nil {
			next = *current
		} else {
			next = DeviceState{DeviceID: deviceID}
		}
		next.NextChunk = 0
		next.Abandoned = false
		next.Retries = 0

		return Transition{
			Next:       next,
			Actions:    []Action{{Kind: ActionSendSize}},
			Registered: current == nil,
		}, nil
	}

	if current == nil {
		return Transition{}, &InvalidStateError{DeviceID: deviceID, Code: code}
	}
	next := *current

	switch code {
	case FeedbackOK:
		if next.NextChunk >= totalChunks {
			// Acks after the last chunk are expected while the device
			// verifies and reboots.
			return Transition{Next: next}, nil
		}
		tr := Transition{
			Next:    next,
			Actions: []Action{{Kind: ActionSendChunk, Chunk: next.NextChunk}},
		}
		tr.Next.NextChunk++
		return tr, nil

	case FeedbackSuccess:
		next.Finished = true
		return Transition{Next: next, Finished: true}, nil

	default:
		return Transition{Next: next, Reported: true, Report: code}, nil
	}
}
