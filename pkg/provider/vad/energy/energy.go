// Package energy implements a model-free [vad.Oracle] that maps the RMS level
// of a frame onto a speech probability. It is the fallback when the Silero
// backend is not compiled in and is handy for tests with synthetic signals.
package energy

import (
	"errors"
	"math"

	"github.com/MrWong99/transrouter/pkg/provider/vad"
)

// DefaultCeiling is the RMS level (on the normalised [-1, 1] scale) at or above
// which a frame is reported with probability 1. Roughly 10000 on the int16
// scale.
const DefaultCeiling = 10000.0 / 32768.0

// Compile-time interface assertion.
var _ vad.Oracle = (*Oracle)(nil)

// Option configures an [Oracle].
type Option func(*Oracle)

// WithCeiling sets the RMS level that maps to probability 1.
func WithCeiling(c float64) Option {
	return func(o *Oracle) {
		if c > 0 {
			o.ceiling = c
		}
	}
}

// Oracle is an energy-based speech detector. It ignores the recurrent state
// and passes it through unchanged.
type Oracle struct {
	ceiling float64
}

// New returns an energy oracle.
func New(opts ...Option) *Oracle {
	o := &Oracle{ceiling: DefaultCeiling}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Predict implements [vad.Oracle].
func (o *Oracle) Predict(samples []float32, _ int, in vad.State) (vad.Prediction, error) {
	if len(samples) == 0 {
		return vad.Prediction{}, errors.New("energy: empty frame")
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return vad.Prediction{
		Probability: min(rms/o.ceiling, 1),
		State:       in.Clone(),
	}, nil
}

// Close implements [vad.Oracle]. It is a no-op.
func (o *Oracle) Close() error { return nil }
