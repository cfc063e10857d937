package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphrec/pkg/audio"
)

// voiceLink is the single voice connection the bot holds in a guild.
type voiceLink struct {
	conn audio.Connection

	// recording is set while a recording owns the connection.
	recording bool

	// borrowers counts speech playbacks using the connection.
	borrowers int
}

// Connections keeps at most one voice connection per guild and shares it
// between recordings and speech playback. A connection is torn down once
// neither a recording nor a playback uses it.
//
// All methods are safe for concurrent use.
type Connections struct {
	platform    audio.Platform
	joinTimeout time.Duration

	mu    sync.Mutex
	links map[string]*voiceLink
	gates map[string]*sync.Mutex
}

// NewConnections creates a pool joining channels through platform. Joins are
// bounded by joinTimeout; zero leaves them bounded only by the caller's ctx.
func NewConnections(platform audio.Platform, joinTimeout time.Duration) *Connections {
	return &Connections{
		platform:    platform,
		joinTimeout: joinTimeout,
		links:       make(map[string]*voiceLink),
		gates:       make(map[string]*sync.Mutex),
	}
}

// gate serialises join decisions per guild so two callers never join the
// same guild at once.
func (p *Connections) gate(guildID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[guildID]
	if !ok {
		g = &sync.Mutex{}
		p.gates[guildID] = g
	}
	return g
}

func (p *Connections) join(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if p.joinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.joinTimeout)
		defer cancel()
	}
	conn, err := p.platform.Connect(ctx, guildID, channelID)
	if err != nil {
		return nil, fmt.Errorf("app: join voice channel %s in guild %s: %w", channelID, guildID, err)
	}
	slog.Info("app: joined voice channel", "guild_id", guildID, "channel_id", channelID)
	return conn, nil
}

// Claim returns a connection to channelID for a recording. A connection to
// another channel of the guild that no recording owns is closed first, even
// if speech is still playing on it.
func (p *Connections) Claim(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	g := p.gate(guildID)
	g.Lock()
	defer g.Unlock()

	p.mu.Lock()
	l := p.links[guildID]
	switch {
	case l == nil:
	case l.conn.ChannelID() == channelID || l.recording:
		l.recording = true
		p.mu.Unlock()
		return l.conn, nil
	default:
		delete(p.links, guildID)
	}
	p.mu.Unlock()

	if l != nil {
		slog.Info("app: leaving voice channel to record elsewhere",
			"guild_id", guildID, "from", l.conn.ChannelID(), "to", channelID)
		disconnect(l.conn)
	}

	conn, err := p.join(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.links[guildID] = &voiceLink{conn: conn, recording: true}
	p.mu.Unlock()
	return conn, nil
}

// Unclaim ends the recording's hold on the guild connection and closes it
// unless a playback still uses it.
func (p *Connections) Unclaim(guildID string) {
	p.mu.Lock()
	l := p.links[guildID]
	if l == nil {
		p.mu.Unlock()
		return
	}
	l.recording = false
	idle := l.borrowers == 0
	if idle {
		delete(p.links, guildID)
	}
	p.mu.Unlock()

	if idle {
		disconnect(l.conn)
	}
}

// Borrow returns the guild's current connection, joining channelID if there
// is none. The caller must call release exactly once when done.
func (p *Connections) Borrow(ctx context.Context, guildID, channelID string) (conn audio.Connection, release func(), err error) {
	g := p.gate(guildID)
	g.Lock()
	defer g.Unlock()

	p.mu.Lock()
	l := p.links[guildID]
	if l != nil {
		l.borrowers++
		p.mu.Unlock()
		return l.conn, p.releaser(guildID, l), nil
	}
	p.mu.Unlock()

	c, err := p.join(ctx, guildID, channelID)
	if err != nil {
		return nil, nil, err
	}
	l = &voiceLink{conn: c, borrowers: 1}
	p.mu.Lock()
	p.links[guildID] = l
	p.mu.Unlock()
	return c, p.releaser(guildID, l), nil
}

func (p *Connections) releaser(guildID string, l *voiceLink) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			l.borrowers--
			idle := l.borrowers == 0 && !l.recording && p.links[guildID] == l
			if idle {
				delete(p.links, guildID)
			}
			p.mu.Unlock()
			if idle {
				disconnect(l.conn)
			}
		})
	}
}

// Get returns the guild's current connection, if any.
func (p *Connections) Get(guildID string) (audio.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.links[guildID]
	if l == nil {
		return nil, false
	}
	return l.conn, true
}

// Leave closes the guild's connection unless a recording owns it or speech
// is playing on it. It reports whether a connection was closed.
func (p *Connections) Leave(guildID string) bool {
	p.mu.Lock()
	l := p.links[guildID]
	if l == nil || l.recording || l.borrowers > 0 {
		p.mu.Unlock()
		return false
	}
	delete(p.links, guildID)
	p.mu.Unlock()

	disconnect(l.conn)
	return true
}

// Close disconnects every connection.
func (p *Connections) Close() error {
	p.mu.Lock()
	links := p.links
	p.links = make(map[string]*voiceLink)
	p.mu.Unlock()

	var errs []error
	for guildID, l := range links {
		if err := l.conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("app: disconnect guild %s: %w", guildID, err))
		}
	}
	return errors.Join(errs...)
}

func disconnect(conn audio.Connection) {
	if err := conn.Disconnect(); err != nil {
		slog.Warn("app: voice disconnect error",
			"guild_id", conn.GuildID(), "channel_id", conn.ChannelID(), "error", err)
		return
	}
	slog.Info("app: left voice channel", "guild_id", conn.GuildID(), "channel_id", conn.ChannelID())
}
