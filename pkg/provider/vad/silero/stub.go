//go:build !silero

package silero

import "github.com/MrWong99/transrouter/pkg/provider/vad"

// Available reports whether the backend is compiled in.
func Available() bool { return false }

// New returns [ErrUnavailable] when built without the silero tag.
func New(_, _ string) (vad.Oracle, error) {
	return nil, ErrUnavailable
}
