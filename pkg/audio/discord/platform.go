// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with glyphrec's per-speaker packet
// subscriptions and PCM playback.
//
// The platform requires an active *discordgo.Session (owned by the bot layer).
// Each call to [Platform.Connect] joins the specified voice channel and
// returns a [Connection]. The same Platform also implements
// [audio.Directory] on top of the session's state cache.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphrec/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform  = (*Platform)(nil)
	_ audio.Directory = (*Platform)(nil)
)

// Platform implements [audio.Platform] using discordgo voice connections.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session

	// join is ChannelVoiceJoin; overridden in tests.
	join func(guildID, channelID string) (*discordgo.VoiceConnection, error)
}

// New creates a new Discord Platform for the given session.
func New(session *discordgo.Session) *Platform {
	return &Platform{
		session: session,
		join: func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
			// mute=false (we play TTS), deaf=false (we record).
			return session.ChannelVoiceJoin(guildID, channelID, false, false)
		},
	}
}

// Connect joins the voice channel identified by channelID and returns an active
// [audio.Connection]. The supplied ctx governs the connection-setup phase only;
// once the Connection is returned it lives until [Connection.Disconnect] is called.
// A join that completes after ctx expired is torn down again.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := p.join(guildID, channelID)
		done <- result{vc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		return newConnection(r.vc, guildID, channelID), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
}

// Member implements [audio.Directory]. The state cache is consulted first;
// a cache miss falls back to the REST API.
func (p *Platform) Member(ctx context.Context, guildID, userID string) (audio.Member, error) {
	m, err := p.session.State.Member(guildID, userID)
	if err != nil {
		m, err = p.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return audio.Member{}, fmt.Errorf("discord: resolve member %s: %w", userID, err)
		}
	}
	return toMember(m, userID), nil
}

// VoiceMembers implements [audio.Directory] using the cached voice states of
// the guild.
func (p *Platform) VoiceMembers(ctx context.Context, guildID, channelID string) ([]audio.Member, error) {
	g, err := p.session.State.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("discord: guild %s not in state: %w", guildID, err)
	}
	var out []audio.Member
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		m, err := p.Member(ctx, guildID, vs.UserID)
		if err != nil {
			// Keep the speaker recordable even if the name is unknown.
			m = audio.Member{UserID: vs.UserID, DisplayName: vs.UserID}
		}
		out = append(out, m)
	}
	return out, nil
}

// DisplayName returns the name a guild member is shown under: the guild
// nickname, then the global display name, then the username.
func DisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

func toMember(m *discordgo.Member, userID string) audio.Member {
	out := audio.Member{UserID: userID, DisplayName: DisplayName(m)}
	if m.User != nil {
		out.Bot = m.User.Bot
		if m.User.ID != "" {
			out.UserID = m.User.ID
		}
	}
	if out.DisplayName == "" {
		out.DisplayName = userID
	}
	return out
}
