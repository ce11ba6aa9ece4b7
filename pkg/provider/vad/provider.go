// Package vad defines the Oracle interface for voice activity detection
// backends.
//
// An Oracle is a pure function over one audio frame: it takes normalised
// float32 samples plus the recurrent state produced by the previous call and
// returns a speech probability together with the updated state. Keeping the
// state outside the oracle lets the caller own it, reset it on session restart,
// and run several independent streams against a single loaded model.
//
// Implementations must be safe for concurrent use across distinct states.
package vad

import "slices"

// StateSize is the number of elements in each recurrent tensor: 2 layers × 1
// batch × 64 hidden units.
const StateSize = 2 * 1 * 64

// State is the recurrent tensor pair carried between successive oracle calls.
// The zero value is not usable; obtain one from [NewState].
type State struct {
	H []float32
	C []float32
}

// NewState returns an all-zero recurrent state.
func NewState() State {
	return State{
		H: make([]float32, StateSize),
		C: make([]float32, StateSize),
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	return State{H: slices.Clone(s.H), C: slices.Clone(s.C)}
}

// IsZero reports whether every element of both tensors is zero.
func (s State) IsZero() bool {
	for _, v := range s.H {
		if v != 0 {
			return false
		}
	}
	for _, v := range s.C {
		if v != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether s and o hold identical tensors.
func (s State) Equal(o State) bool {
	return slices.Equal(s.H, o.H) && slices.Equal(s.C, o.C)
}

// Prediction is the result of one oracle invocation.
type Prediction struct {
	// Probability is the speech probability in [0, 1].
	Probability float64

	// State is the updated recurrent state to pass to the next call.
	State State
}

// Oracle computes speech probabilities for audio frames.
type Oracle interface {
	// Predict classifies one frame of samples normalised to [-1, 1] at
	// sampleRate. in is not modified; the returned Prediction carries a fresh
	// state.
	Predict(samples []float32, sampleRate int, in State) (Prediction, error)

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
