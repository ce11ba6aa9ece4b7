// Package mock provides in-memory implementations of [audio.CaptureDevice] and
// [audio.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.Capture{}
//	out := &mock.Output{WriteDelay: 10 * time.Millisecond}
//	// ... start the pipeline ...
//	capture.Emit(pcmBlock) // simulates one hardware callback
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/transrouter/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.CaptureDevice = (*Capture)(nil)
	_ audio.OutputDevice  = (*Output)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock [audio.CaptureDevice]. Tests drive it with [Capture.Emit].
type Capture struct {
	mu sync.Mutex
	cb audio.CaptureCallback

	// StartError is returned by [Capture.Start].
	StartError error

	// StopError is returned by [Capture.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// StoppedAt records the wall-clock time of the first Stop call.
	StoppedAt time.Time
}

// Start implements [audio.CaptureDevice].
func (c *Capture) Start(cb audio.CaptureCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.cb = cb
	return nil
}

// Stop implements [audio.CaptureDevice].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if c.StoppedAt.IsZero() {
		c.StoppedAt = time.Now()
	}
	c.cb = nil
	return c.StopError
}

// Close implements [audio.CaptureDevice].
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.cb = nil
	return nil
}

// Emit invokes the registered callback with pcm, as the hardware thread would.
// It reports whether a callback was registered.
func (c *Capture) Emit(pcm []byte) bool {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(pcm)
	return true
}

// EmitSamples is a convenience wrapper around [Capture.Emit].
func (c *Capture) EmitSamples(samples []int16) bool {
	return c.Emit(audio.SamplesToBytes(samples))
}

// Running reports whether Start succeeded and Stop has not been called since.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb != nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock [audio.OutputDevice] that records every write.
type Output struct {
	mu sync.Mutex

	// OutputFormat is returned by [Output.Format]. Defaults to 24 kHz mono.
	OutputFormat audio.Format

	// WriteDelay makes every Write block for the given duration.
	WriteDelay time.Duration

	// WriteError is returned by every Write call when non-nil.
	WriteError error

	// Writes holds a copy of every successfully written chunk, in order.
	Writes [][]int16

	// CallCountWrite records how many times Write was called.
	CallCountWrite int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Write implements [audio.OutputDevice].
func (o *Output) Write(samples []int16) error {
	o.mu.Lock()
	delay := o.WriteDelay
	o.CallCountWrite++
	err := o.WriteError
	o.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.Writes = append(o.Writes, append([]int16(nil), samples...))
	o.mu.Unlock()
	return nil
}

// Format implements [audio.OutputDevice].
func (o *Output) Format() audio.Format {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OutputFormat.SampleRate == 0 {
		return audio.Format{SampleRate: audio.PlaybackSampleRate, Channels: 1}
	}
	return o.OutputFormat
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// Samples returns all written samples concatenated in write order.
func (o *Output) Samples() []int16 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []int16
	for _, w := range o.Writes {
		out = append(out, w...)
	}
	return out
}

// WriteCount returns the number of successful writes.
func (o *Output) WriteCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Writes)
}
