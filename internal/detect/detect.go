// Package detect is the boundary to the external display-state detector.
// The station core polls a single readable field when building a status
// report; how the state gets detected (OCR over a capture pipeline) is
// someone else's problem.
package detect

// Source exposes the current detected driver-station display state.
// Implementations must be safe for concurrent reads. An empty string
// means "nothing detected".
type Source interface {
	State() string
}

// None is the Source used when the detection pipeline is disabled.
type None struct{}

func (None) State() string { return "" }

// Static always reports a fixed state. Test helper.
type Static string

func (s Static) State() string { return string(s) }
