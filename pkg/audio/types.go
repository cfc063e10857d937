package audio

import "time"

// AudioFrame represents a chunk of PCM audio flowing through playback.
type AudioFrame struct {
	// PCM audio data, interleaved signed 16-bit little-endian samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for TTS output).
	SampleRate int

	// Channels: 1 for mono (TTS output), 2 for stereo (Discord).
	Channels int

	// Timestamp marks the position of this frame relative to stream start.
	Timestamp time.Duration
}

// Packet is one compressed voice packet received from a single speaker.
type Packet struct {
	// Sequence is the RTP sequence number.
	Sequence uint16

	// Timestamp is the RTP timestamp in units of the codec sample clock
	// (48 kHz for Opus).
	Timestamp uint32

	// Opus holds the compressed payload.
	Opus []byte
}

// SubscribeOptions configures [Connection.Subscribe]. A subscription stays
// open until it is unsubscribed or its connection closes.
type SubscribeOptions struct {
	// Buffer is the packet channel capacity. Zero selects
	// [DefaultSubscriptionBuffer].
	Buffer int
}
