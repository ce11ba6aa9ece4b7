// Package mock provides a test double for the vad.Oracle interface.
//
// Oracle replays a scripted sequence of probabilities and records every call
// so tests can assert on the frames and recurrent states that were submitted.
//
// Example:
//
//	o := &mock.Oracle{Probabilities: []float64{0.9, 0.9, 0.1}}
//	p, _ := o.Predict(samples, 16000, vad.NewState())
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// Compile-time interface assertion.
var _ vad.Oracle = (*Oracle)(nil)

// PredictCall records a single invocation of Oracle.Predict.
type PredictCall struct {
	Samples    int
	SampleRate int
	In         vad.State
}

// Oracle is a mock implementation of vad.Oracle.
//
// Each Predict call consumes the next entry in Probabilities. When the script
// is exhausted, Default is returned. The returned state has every element of H
// set to the number of calls made so far, which makes state threading visible
// to tests.
type Oracle struct {
	mu sync.Mutex

	// Probabilities is the scripted sequence of results.
	Probabilities []float64

	// Default is returned once Probabilities is exhausted.
	Default float64

	// PredictErr, if non-nil, is returned by Predict.
	PredictErr error

	// Delay, if positive, makes every Predict call sleep before answering.
	Delay time.Duration

	// Calls records every Predict call in order.
	Calls []PredictCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Predict implements vad.Oracle.
func (o *Oracle) Predict(samples []float32, sampleRate int, in vad.State) (vad.Prediction, error) {
	if o.Delay > 0 {
		time.Sleep(o.Delay)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls = append(o.Calls, PredictCall{Samples: len(samples), SampleRate: sampleRate, In: in.Clone()})
	if o.PredictErr != nil {
		return vad.Prediction{}, o.PredictErr
	}
	idx := len(o.Calls) - 1
	p := o.Default
	if idx < len(o.Probabilities) {
		p = o.Probabilities[idx]
	}
	next := vad.NewState()
	for i := range next.H {
		next.H[i] = float32(len(o.Calls))
	}
	return vad.Prediction{Probability: p, State: next}, nil
}

// Close implements vad.Oracle.
func (o *Oracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// CallCount returns the number of Predict calls.
func (o *Oracle) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Calls)
}

// Reset clears all recorded calls.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls = nil
	o.CallCountClose = 0
}
