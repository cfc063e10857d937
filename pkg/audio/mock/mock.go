// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.Connection] and [audio.Directory] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{Guild: "g1", Channel: "voice-1"}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, _ := platform.Connect(ctx, "g1", "voice-1")
//	sub, _ := got.Subscribe("alice", audio.SubscribeOptions{})
//	conn.Stream("alice").Deliver(audio.Packet{Opus: frame})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glyphrec/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// SubscribeCall records the arguments of a single [Connection.Subscribe] invocation.
type SubscribeCall struct {
	UserID string
	Opts   audio.SubscribeOptions
}

// Connection is a mock implementation of [audio.Connection].
// Set the exported fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// Guild and Channel are returned by GuildID and ChannelID.
	Guild   string
	Channel string

	// SubscribeErrors maps a user ID to the error Subscribe returns for it.
	SubscribeErrors map[string]error

	// PlayError is returned by Play after all frames were consumed.
	PlayError error

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	// SubscribeCalls records all Subscribe invocations.
	SubscribeCalls []SubscribeCall

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// Played collects every frame consumed by Play.
	Played []audio.AudioFrame

	streams    map[string]*audio.PacketStream
	speakingCb func(audio.SpeakingEvent)
	closed     bool
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.Guild }

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.Channel }

// Subscribe implements [audio.Connection]. The returned subscription is an
// [audio.PacketStream]; retrieve it with [Connection.Stream] to feed packets.
func (c *Connection) Subscribe(userID string, opts audio.SubscribeOptions) (audio.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, SubscribeCall{UserID: userID, Opts: opts})
	if err := c.SubscribeErrors[userID]; err != nil {
		return nil, err
	}
	if c.closed {
		return nil, audio.ErrConnectionClosed
	}
	if c.streams == nil {
		c.streams = make(map[string]*audio.PacketStream)
	}
	if _, ok := c.streams[userID]; ok {
		return nil, audio.ErrAlreadySubscribed
	}
	var s *audio.PacketStream
	s = audio.NewPacketStream(userID, opts, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.streams[userID] == s {
			delete(c.streams, userID)
		}
	})
	c.streams[userID] = s
	return s, nil
}

// Stream returns the open subscription for userID, or nil.
func (c *Connection) Stream(userID string) *audio.PacketStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[userID]
}

// Subscribed reports whether userID currently has an open subscription.
func (c *Connection) Subscribed(userID string) bool {
	return c.Stream(userID) != nil
}

// OnSpeaking implements [audio.Connection].
func (c *Connection) OnSpeaking(cb func(audio.SpeakingEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakingCb = cb
}

// EmitSpeaking synchronously invokes the registered speaking callback.
// It reports whether a callback was registered.
func (c *Connection) EmitSpeaking(ev audio.SpeakingEvent) bool {
	c.mu.Lock()
	cb := c.speakingCb
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(ev)
	return true
}

// Play implements [audio.Connection]. It consumes frames into Played.
func (c *Connection) Play(ctx context.Context, frames <-chan audio.AudioFrame) error {
	c.mu.Lock()
	c.CallCountPlay++
	c.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				c.mu.Lock()
				defer c.mu.Unlock()
				return c.PlayError
			}
			c.mu.Lock()
			c.Played = append(c.Played, f)
			c.mu.Unlock()
		}
	}
}

// Disconnect implements [audio.Connection]. Open subscriptions end with
// [audio.ErrConnectionClosed].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.CallCountDisconnect++
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := make([]*audio.PacketStream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	err := c.DisconnectError
	c.mu.Unlock()

	for _, s := range streams {
		s.End(audio.ErrConnectionClosed)
	}
	return err
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectFunc, when set, takes precedence over ConnectResult.
	ConnectFunc func(guildID, channelID string) (audio.Connection, error)

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectFunc != nil {
		return p.ConnectFunc(guildID, channelID)
	}
	return p.ConnectResult, nil
}

// Calls returns a copy of ConnectCalls.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// ─── Directory ────────────────────────────────────────────────────────────────

// Directory is a mock implementation of [audio.Directory].
type Directory struct {
	mu sync.Mutex

	// Members maps a user ID to its member record.
	Members map[string]audio.Member

	// Voice maps a channel ID to the user IDs connected to it.
	Voice map[string][]string

	// MemberError is returned by Member when set.
	MemberError error

	// VoiceError is returned by VoiceMembers when set.
	VoiceError error
}

// Member implements [audio.Directory].
func (d *Directory) Member(_ context.Context, _, userID string) (audio.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.MemberError != nil {
		return audio.Member{}, d.MemberError
	}
	m, ok := d.Members[userID]
	if !ok {
		return audio.Member{UserID: userID, DisplayName: userID}, nil
	}
	return m, nil
}

// VoiceMembers implements [audio.Directory].
func (d *Directory) VoiceMembers(_ context.Context, _, channelID string) ([]audio.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.VoiceError != nil {
		return nil, d.VoiceError
	}
	var out []audio.Member
	for _, id := range d.Voice[channelID] {
		m, ok := d.Members[id]
		if !ok {
			m = audio.Member{UserID: id, DisplayName: id}
		}
		out = append(out, m)
	}
	return out, nil
}
