package conversation

import "errors"

var (
	// ErrRephrase means the oracle gave no usable rephrasing.
	ErrRephrase = errors.New("rephrase failed")
	// ErrUnknownState means a session points at a state the tree does not have.
	ErrUnknownState = errors.New("unknown conversation state")
)

// Result is the outcome of one conversation turn.
type Result struct {
	Reply string
	// State is the state after the turn. For a finished session it is the
	// diagnosis key.
	State string
	// Label is the interpreted outcome, tree.InvalidLabel when nothing fit.
	Label        string
	SessionEnded bool
	// Diagnosis is set when the turn reached a terminal state.
	Diagnosis string
}
