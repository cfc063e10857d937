package commands

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Reactions added to a mention once speech finished.
const (
	reactionSpoken = "🔊"
	reactionFailed = "❌"
)

// Reactor adds reactions to messages. [*discordgo.Session] implements it.
type Reactor interface {
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

// MentionHandler speaks the text of messages that start by mentioning the
// bot, in the author's voice channel.
type MentionHandler struct {
	speaker Sayer
	voice   VoiceLocator
	selfID  func() string
}

// NewMentionHandler creates a MentionHandler. selfID returns the bot's user
// ID, or "" before the gateway is ready.
func NewMentionHandler(speaker Sayer, voice VoiceLocator, selfID func() string) *MentionHandler {
	return &MentionHandler{speaker: speaker, voice: voice, selfID: selfID}
}

// Handle is the discordgo MessageCreate handler.
func (h *MentionHandler) Handle(s *discordgo.Session, m *discordgo.MessageCreate) {
	h.handle(s, m)
}

func (h *MentionHandler) handle(r Reactor, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	selfID := h.selfID()
	if selfID == "" {
		return
	}
	text, ok := MentionText(m.Content, selfID)
	if !ok || text == "" {
		return
	}
	channelID, ok := h.voice(m.GuildID, m.Author.ID)
	if !ok {
		slog.Debug("discord: mention author not in voice", "guild_id", m.GuildID, "user_id", m.Author.ID)
		return
	}

	emoji := reactionSpoken
	if err := h.speaker.Say(context.Background(), m.GuildID, channelID, text); err != nil {
		slog.Error("discord: mention speech", "guild_id", m.GuildID, "channel_id", channelID, "err", err)
		emoji = reactionFailed
	}
	if err := r.MessageReactionAdd(m.ChannelID, m.ID, emoji); err != nil {
		slog.Warn("discord: failed to react", "message_id", m.ID, "err", err)
	}
}

// MentionText reports whether content starts with a mention of userID
// followed by whitespace, and returns the trimmed rest of the message.
func MentionText(content, userID string) (string, bool) {
	re, err := regexp.Compile(`^<@!?` + regexp.QuoteMeta(userID) + `>\s+`)
	if err != nil {
		return "", false
	}
	loc := re.FindStringIndex(content)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(content[loc[1]:]), true
}
