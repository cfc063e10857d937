package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when abandoning a producer (a TTS stream, a subscription) so the
// producing goroutine does not block forever.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
