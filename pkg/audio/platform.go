// Package audio defines the interfaces and types for voice platform connectivity
// and per-speaker packet subscriptions within glyphrec.
//
// The primary abstractions are:
//
//   - [Platform]: joins a voice channel and returns a [Connection].
//   - [Connection]: an active session on that channel. Callers subscribe to a
//     single speaker's compressed packets, observe speaking changes and play
//     PCM audio back into the channel.
//   - [Directory]: resolves guild members to display names.
//
// Implementations of these interfaces are provided by platform-specific adapter
// packages (e.g., audio/discord). The interfaces are intentionally narrow to
// keep the recorder decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party platform adapters)
// is expected to implement [Platform] and [Connection].
package audio

import (
	"context"
	"errors"
)

var (
	// ErrConnectionClosed is reported by a [Subscription] whose connection was
	// torn down while the subscription was still open.
	ErrConnectionClosed = errors.New("audio: connection closed")

	// ErrAlreadySubscribed is returned by [Connection.Subscribe] when a
	// subscription for the same user is still open.
	ErrAlreadySubscribed = errors.New("audio: user already subscribed")
)

// SpeakingEvent reports that a participant started or stopped transmitting.
// Callbacks registered via [Connection.OnSpeaking] receive values of this type.
type SpeakingEvent struct {
	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Speaking is true when the participant started transmitting.
	Speaking bool
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called. All subscriptions opened on the
// connection end with [ErrConnectionClosed] when it terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// GuildID returns the guild the connection belongs to.
	GuildID() string

	// ChannelID returns the voice channel the connection is joined to.
	ChannelID() string

	// Subscribe opens a packet subscription for a single speaker. Packets
	// arrive in receive order on [Subscription.Packets]. Only one open
	// subscription per user is allowed; a second call returns
	// [ErrAlreadySubscribed].
	Subscribe(userID string, opts SubscribeOptions) (Subscription, error)

	// OnSpeaking registers cb as the callback to invoke whenever a participant
	// starts or stops transmitting. Only one callback may be registered at a
	// time; subsequent calls replace the previous registration and a nil cb
	// removes it. The callback is invoked on its own goroutine.
	OnSpeaking(cb func(SpeakingEvent))

	// Play transmits PCM frames into the voice channel until frames is closed
	// or ctx is cancelled. Concurrent calls are serialised. Frames may have
	// any sample rate or channel count; implementations convert as needed.
	Play(ctx context.Context, frames <-chan AudioFrame) error

	// Disconnect cleanly tears down the connection and ends every open
	// subscription. It is safe to call Disconnect more than once; subsequent
	// calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel provider.
// Implementations wrap provider-specific SDKs and expose a uniform
// [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID in guildID and
	// returns an active [Connection]. The supplied ctx governs the connection
	// attempt only; once connected, the Connection remains alive until
	// [Connection.Disconnect] is called explicitly.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Member is a guild member as seen by the recorder.
type Member struct {
	UserID      string
	DisplayName string
	Bot         bool
}

// Directory resolves guild members. The Discord platform implements it on
// top of the gateway state cache.
type Directory interface {
	// Member returns the member identified by userID in guildID.
	Member(ctx context.Context, guildID, userID string) (Member, error)

	// VoiceMembers lists the members currently connected to channelID.
	VoiceMembers(ctx context.Context, guildID, channelID string) ([]Member, error)
}
