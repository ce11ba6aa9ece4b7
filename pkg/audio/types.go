package audio

import "time"

// Reference stream parameters for the translation pipeline.
const (
	// CaptureSampleRate is the microphone sample rate expected by the VAD
	// oracle and the remote translation service.
	CaptureSampleRate = 16000

	// CaptureBlockSize is the number of samples delivered per capture
	// callback (100 ms at 16 kHz).
	CaptureBlockSize = 1600

	// PlaybackSampleRate is the sample rate of synthesized audio returned by
	// the remote translation service.
	PlaybackSampleRate = 24000

	// PlaybackBlockSize is the output device buffer size in samples (100 ms at
	// 24 kHz).
	PlaybackBlockSize = 2400
)

// AudioFrame is a fixed-length block of mono signed 16-bit samples flowing
// through the pipeline. Frames are produced by the capture bridge, consumed by
// the segmenter and the recording archive, and are never mutated after they
// have been handed off.
type AudioFrame struct {
	// Samples holds mono PCM samples in capture order.
	Samples []int16

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Len returns the number of samples in the frame.
func (f AudioFrame) Len() int { return len(f.Samples) }

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a sample count at sampleRate to a duration.
// A non-positive sampleRate yields zero.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// DurationSamples converts d to a sample count at sampleRate, rounding down.
func DurationSamples(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
