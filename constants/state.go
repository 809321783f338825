package constants

// ProcessingState is the canonical lifecycle state for a document moving
// through the extraction pipeline.
type ProcessingState string

// Stable values (these exact strings appear in status records and events).
const (
	StateEnqueued        ProcessingState = "ENQUEUED"
	StateRasterizing     ProcessingState = "RASTERIZING"
	StatePreprocessing   ProcessingState = "PREPROCESSING"
	StateLayoutDetecting ProcessingState = "LAYOUT_DETECTING"
	StateRecognizing     ProcessingState = "RECOGNIZING"
	StateExtracting      ProcessingState = "EXTRACTING"
	StateValidating      ProcessingState = "VALIDATING"
	StateAligning        ProcessingState = "ALIGNING"
	StateReady           ProcessingState = "READY"
	StateError           ProcessingState = "ERROR"
)

// stateOrder fixes the forward walk. Error is not part of the walk; it is
// reachable from any non-terminal state.
var stateOrder = map[ProcessingState]int{
	StateEnqueued:        0,
	StateRasterizing:     1,
	StatePreprocessing:   2,
	StateLayoutDetecting: 3,
	StateRecognizing:     4,
	StateExtracting:      5,
	StateValidating:      6,
	StateAligning:        7,
	StateReady:           8,
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s ProcessingState) IsTerminal() bool {
	return s == StateReady || s == StateError
}

// Ord returns the position of s in the forward walk, or -1 for Error.
func (s ProcessingState) Ord() int {
	if n, ok := stateOrder[s]; ok {
		return n
	}
	return -1
}

// CanTransition reports whether from -> to is a legal lifecycle transition:
// strictly forward through the fixed order, or to Error from any non-terminal
// state. Regressions are never legal.
func CanTransition(from, to ProcessingState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateError {
		return true
	}
	fo, ok1 := stateOrder[from]
	to2, ok2 := stateOrder[to]
	return ok1 && ok2 && to2 > fo
}
