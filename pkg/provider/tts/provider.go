// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g. ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// channel of raw PCM audio bytes as they become available, so playback can
// begin before the whole utterance is synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/glyphrec/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel, e.g. in different guilds.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices in the format
	// reported by Format.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis close the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// Format returns the PCM format of synthesised audio.
	Format() audio.Format
}

// Stream is a convenience wrapper that synthesises a single complete text.
func Stream(ctx context.Context, p Provider, text string, voice VoiceProfile) (<-chan []byte, error) {
	in := make(chan string, 1)
	in <- text
	close(in)
	return p.SynthesizeStream(ctx, in, voice)
}
