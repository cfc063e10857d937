// Package discord provides the Discord bot layer for glyphrec. It owns
// the discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, and checks recorder role permissions.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	discordaudio "github.com/MrWong99/glyphrec/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token without the "Bot " prefix.
	Token string

	// GuildID registers commands for one guild only. Empty registers them
	// globally.
	GuildID string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	guildID   string
	commands  []*discordgo.ApplicationCommand
	ready     atomic.Bool
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Store(true)
		slog.Info("discord: logged in", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.ready.Store(true)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Store(false)
		slog.Warn("discord: gateway disconnected")
	})
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the voice platform. It implements both audio.Platform
// and audio.Directory.
func (b *Bot) Platform() *discordaudio.Platform {
	return b.platform
}

// SelfID returns the bot's own user ID.
func (b *Bot) SelfID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session.State == nil || b.session.State.User == nil {
		return ""
	}
	return b.session.State.User.ID
}

// Ready reports whether the gateway connection is up.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// VoiceChannel returns the voice channel userID is connected to in guildID,
// as seen by the gateway state cache.
func (b *Bot) VoiceChannel(guildID, userID string) (string, bool) {
	vs, err := b.Session().State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// OnMessage registers h for every message the bot can see.
func (b *Bot) OnMessage(h func(s *discordgo.Session, m *discordgo.MessageCreate)) {
	b.Session().AddHandler(h)
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	appID := b.SelfID()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.Session().ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close disconnects from Discord. Guild-scoped commands are unregistered;
// global commands stay since they take long to propagate.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.guildID != "" && len(b.commands) > 0 && b.session.State.User != nil {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		b.ready.Store(false)

		slog.Info("discord bot closed")
	})
	return closeErr
}
