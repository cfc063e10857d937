// Package opus wraps layeh.com/gopus with the fixed parameters Discord voice
// uses: 48 kHz stereo with 20 ms frames. PCM on both sides is interleaved
// signed 16-bit little-endian bytes.
package opus

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/glyphrec/pkg/audio"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	SampleRate  = 48000
	Channels    = 2
	FrameSizeMs = 20

	// FrameSize is the number of samples per channel per 20 ms frame.
	FrameSize = SampleRate * FrameSizeMs / 1000 // 960

	// FrameBytes is the PCM size of one 20 ms frame: 960 × 2 channels × 2 bytes.
	FrameBytes = FrameSize * Channels * 2 // 3840

	// maxFrameSize is the longest frame Opus allows (120 ms) in samples per channel.
	maxFrameSize = SampleRate * 120 / 1000
)

// Format is the PCM format produced by [Decoder] and consumed by [Encoder].
var Format = audio.Format{SampleRate: SampleRate, Channels: Channels}

// Decoder decodes a single speaker's Opus packets. Each speaker needs its own
// decoder because Opus keeps state across consecutive frames.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a new Opus decoder configured for Discord audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet into interleaved PCM bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return Int16sToBytes(pcm), nil
}

// Encoder encodes 20 ms PCM frames for transmission.
//
// An Encoder is not safe for concurrent use.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates a new Opus encoder configured for Discord audio.
func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode encodes exactly one frame of [FrameBytes] PCM bytes.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != FrameBytes {
		return nil, fmt.Errorf("opus: encode: frame is %d bytes, want %d", len(pcm), FrameBytes)
	}
	out, err := e.enc.Encode(BytesToInt16s(pcm), FrameSize, len(pcm))
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return out, nil
}

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
