package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphrec/pkg/audio"
	"github.com/MrWong99/glyphrec/pkg/audio/opus"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. It maps SSRCs to user IDs from speaking
// updates, routes incoming Opus packets to per-user subscriptions, and
// encodes outgoing PCM to Opus for playback.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string

	mu       sync.RWMutex
	subs     map[string]*audio.PacketStream // keyed by user ID
	ssrcUser map[uint32]string

	speakingMu sync.Mutex
	speakingCb func(audio.SpeakingEvent)

	playMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Disconnect to tear down the voice connection.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error

	// setSpeaking toggles the bot's speaking indicator. Defaults to vc.Speaking.
	setSpeaking func(bool) error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive loop.
func newConnection(vc *discordgo.VoiceConnection, guildID, channelID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		channelID:    channelID,
		subs:         make(map[string]*audio.PacketStream),
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		setSpeaking:  vc.Speaking,
	}
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.recvLoop()
	return c
}

// GuildID implements [audio.Connection].
func (c *Connection) GuildID() string { return c.guildID }

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string { return c.channelID }

// Subscribe implements [audio.Connection].
func (c *Connection) Subscribe(userID string, opts audio.SubscribeOptions) (audio.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil, audio.ErrConnectionClosed
	default:
	}
	if _, ok := c.subs[userID]; ok {
		return nil, fmt.Errorf("discord: subscribe %s: %w", userID, audio.ErrAlreadySubscribed)
	}

	var s *audio.PacketStream
	s = audio.NewPacketStream(userID, opts, func() { c.removeSub(userID, s) })
	c.subs[userID] = s
	return s, nil
}

func (c *Connection) removeSub(userID string, s *audio.PacketStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[userID] == s {
		delete(c.subs, userID)
	}
	if n := s.Dropped(); n > 0 {
		slog.Warn("discord: subscriber fell behind, packets dropped",
			"guild_id", c.guildID, "user_id", userID, "dropped", n)
	}
}

// OnSpeaking implements [audio.Connection].
func (c *Connection) OnSpeaking(cb func(audio.SpeakingEvent)) {
	c.speakingMu.Lock()
	defer c.speakingMu.Unlock()
	c.speakingCb = cb
}

// Play implements [audio.Connection]. PCM is converted to 48 kHz stereo,
// cut into 20 ms frames and Opus-encoded. A trailing partial frame is padded
// with silence.
func (c *Connection) Play(ctx context.Context, frames <-chan audio.AudioFrame) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()

	enc, err := opus.NewEncoder()
	if err != nil {
		return err
	}

	if err := c.setSpeaking(true); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", true, "error", err)
	}
	defer func() {
		if err := c.setSpeaking(false); err != nil {
			slog.Warn("discord: speaking notification error", "speaking", false, "error", err)
		}
	}()

	var buf []byte
	send := func(pcm []byte) error {
		packet, err := enc.Encode(pcm)
		if err != nil {
			return err
		}
		select {
		case c.vc.OpusSend <- packet:
			return nil
		case <-c.done:
			return audio.ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return audio.ErrConnectionClosed
		case frame, ok := <-frames:
			if !ok {
				if len(buf) > 0 {
					padded := make([]byte, opus.FrameBytes)
					copy(padded, buf)
					return send(padded)
				}
				return nil
			}
			src := audio.Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
			buf = append(buf, audio.Convert(frame.Data, src, opus.Format)...)
			for len(buf) >= opus.FrameBytes {
				if err := send(buf[:opus.FrameBytes]); err != nil {
					return err
				}
				buf = buf[opus.FrameBytes:]
			}
		}
	}
}

// Disconnect cleanly tears down the voice connection and ends every open
// subscription. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.mu.Lock()
		subs := make([]*audio.PacketStream, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.mu.Unlock()

		// End outside the lock; each End calls back into removeSub.
		for _, s := range subs {
			s.End(audio.ErrConnectionClosed)
		}
	})
	return err
}

// recvLoop reads Opus packets from the Discord voice connection and hands
// each one to the subscription of the user owning its SSRC. Packets from
// unknown SSRCs or unsubscribed users are discarded.
func (c *Connection) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				// A closed receive channel means the voice link is gone.
				go func() {
					if err := c.Disconnect(); err != nil {
						slog.Debug("discord: disconnect after receive close", "guild_id", c.guildID, "error", err)
					}
				}()
				return
			}
			if pkt == nil {
				continue
			}
			c.route(pkt)
		}
	}
}

func (c *Connection) route(pkt *discordgo.Packet) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	userID, ok := c.ssrcUser[pkt.SSRC]
	if !ok {
		return
	}
	s, ok := c.subs[userID]
	if !ok {
		return
	}
	s.Deliver(audio.Packet{
		Sequence:  pkt.Sequence,
		Timestamp: pkt.Timestamp,
		Opus:      pkt.Opus,
	})
}

// handleSpeakingUpdate records the SSRC of a speaking user and forwards the
// change to the registered callback.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()

	c.speakingMu.Lock()
	cb := c.speakingCb
	c.speakingMu.Unlock()
	if cb != nil {
		go cb(audio.SpeakingEvent{UserID: vs.UserID, Speaking: vs.Speaking})
	}
}

// SSRCToUserID returns the user ID associated with the given SSRC, or an
// empty string if no speaking update has mapped it yet.
func (c *Connection) SSRCToUserID(ssrc uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ssrcUser[ssrc]
}
