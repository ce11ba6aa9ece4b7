// Package audio defines the frame type, PCM helpers and hardware device
// interfaces used by the transrouter pipeline.
//
// The two device abstractions are:
//
//   - [CaptureDevice]: a microphone that pushes raw PCM blocks to a callback
//     running on a hardware-driven thread.
//   - [OutputDevice]: a speaker that accepts samples through a blocking write.
//
// Concrete backends live in audio/device; audio/mock provides test doubles.
package audio

// CaptureCallback receives one block of little-endian int16 PCM from the
// hardware thread. The slice is only valid for the duration of the call and the
// callback must never block.
type CaptureCallback func(pcm []byte)

// CaptureDevice is a hardware input stream.
//
// Implementations must be safe for concurrent use. Stop and Close must be
// idempotent.
type CaptureDevice interface {
	// Start opens the stream and begins invoking cb for every captured block.
	// Returns an error if the device cannot be opened.
	Start(cb CaptureCallback) error

	// Stop halts the stream. No callback is invoked after Stop returns.
	Stop() error

	// Close releases all device resources. Close implies Stop.
	Close() error
}

// OutputDevice is a hardware output stream with blocking writes.
//
// Write blocks until the device has accepted the samples; a slow device
// therefore throttles its caller. Implementations must be safe for concurrent
// use and Close must be idempotent.
type OutputDevice interface {
	// Write plays samples, blocking until the device buffer accepts them.
	Write(samples []int16) error

	// Format reports the stream format the device was opened with.
	Format() Format

	// Close stops playback and releases device resources.
	Close() error
}

// DeviceInfo describes one host audio device.
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// DeviceConfig selects and parameterises a hardware stream.
type DeviceConfig struct {
	// Device is the device name. Empty selects the host default.
	Device string

	// SampleRate in Hz.
	SampleRate int

	// BlockSize is the number of samples per hardware buffer.
	BlockSize int
}
