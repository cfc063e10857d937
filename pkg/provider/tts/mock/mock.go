// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Text holds every fragment read from the text channel.
	Text []string
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeChunks is the sequence of audio byte slices emitted on the channel
	// returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream
	// instead of starting a channel.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// PCMFormat is returned by Format. Zero means 16 kHz mono.
	PCMFormat audio.Format

	// --- Call records ---

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	// Text is filled once the text channel is closed.
	SynthesizeStreamCalls []SynthesizeStreamCall
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks once the text channel is closed.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	idx := len(p.SynthesizeStreamCalls)
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for fragment := range text {
			p.mu.Lock()
			p.SynthesizeStreamCalls[idx].Text = append(p.SynthesizeStreamCalls[idx].Text, fragment)
			p.mu.Unlock()
		}
		for _, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PCMFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return p.PCMFormat
}

// Calls returns a copy of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeStreamCall(nil), p.SynthesizeStreamCalls...)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
