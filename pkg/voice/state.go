package voice

import "fmt"

// State is the lifecycle position of a pipeline.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateTranscribing
	StateGenerating
	StateChunking
	StateSynthesizing
	StateAssembling
	StateComplete
	StateError
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateCapturing:    "capturing",
	StateTranscribing: "transcribing",
	StateGenerating:   "generating",
	StateChunking:     "chunking",
	StateSynthesizing: "synthesizing",
	StateAssembling:   "assembling",
	StateComplete:     "complete",
	StateError:        "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal successors of each state.
//
// Chunking and Synthesizing overlap in practice: once the first sentence is
// dispatched the pipeline reports Synthesizing while it keeps chunking.
// A silent capture ends the turn straight from Capturing.
var transitions = map[State][]State{
	StateIdle:         {StateCapturing, StateGenerating},
	StateCapturing:    {StateTranscribing, StateComplete, StateError},
	StateTranscribing: {StateGenerating, StateError},
	StateGenerating:   {StateChunking, StateError},
	StateChunking:     {StateSynthesizing, StateError},
	StateSynthesizing: {StateAssembling, StateError},
	StateAssembling:   {StateComplete, StateError},
	StateComplete:     {StateIdle},
	StateError:        {StateIdle},
}

// CanTransition reports whether to is a legal successor of s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a turn.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// stage names the work a state performs, for error reporting.
func (s State) stage() string {
	switch s {
	case StateCapturing:
		return StageCapture
	case StateTranscribing:
		return StageTranscription
	case StateGenerating:
		return StageGeneration
	case StateChunking:
		return StageChunking
	case StateSynthesizing:
		return StageSynthesis
	case StateAssembling:
		return StageAssembly
	default:
		return s.String()
	}
}
