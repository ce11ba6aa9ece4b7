// Package silero runs the Silero VAD v4 ONNX model through ONNX Runtime as a
// [vad.Oracle]. It is compiled only with -tags silero; without the tag [New]
// returns [ErrUnavailable].
package silero

import "errors"

// ErrUnavailable indicates the Silero backend is not compiled in.
var ErrUnavailable = errors.New("silero: backend not available (build with -tags silero)")
