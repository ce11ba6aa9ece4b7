package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a producer must be unblocked during
// teardown but its remaining output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
