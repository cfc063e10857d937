package commands

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphrec/internal/discord"
)

// SpeakCommands holds the dependencies for /speak.
type SpeakCommands struct {
	speaker Sayer
	voice   VoiceLocator

	// channelID restricts /speak to one text channel. Empty allows all.
	channelID string
}

// NewSpeakCommands creates a SpeakCommands and registers its handler with
// router.
func NewSpeakCommands(router *discord.CommandRouter, speaker Sayer, voice VoiceLocator, channelID string) *SpeakCommands {
	sc := &SpeakCommands{speaker: speaker, voice: voice, channelID: channelID}
	sc.Register(router)
	return sc
}

// Register registers /speak with the router.
func (sc *SpeakCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand(sc.Definition(), func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		sc.speak(s, i)
	})
}

// Definition returns the ApplicationCommand definition for Discord.
func (sc *SpeakCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "speak",
		Description: "Takes text input and plays it as speech in your voice channel.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "text",
				Description: "The text to speak",
				Required:    true,
			},
		},
	}
}

// speak handles /speak.
func (sc *SpeakCommands) speak(s discord.Responder, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		discord.RespondEphemeral(s, i, "This command can only be used in a server.")
		return
	}
	if sc.channelID != "" && i.ChannelID != sc.channelID {
		discord.RespondEphemeral(s, i, "This command can only be used in the designated channel.")
		return
	}
	channelID, ok := sc.voice(i.GuildID, interactionUserID(i))
	if !ok {
		discord.RespondEphemeral(s, i, "You need to be in a voice channel to use this command.")
		return
	}
	text := optionString(i, "text")
	if strings.TrimSpace(text) == "" {
		discord.RespondEphemeral(s, i, "Please provide some text to speak.")
		return
	}

	discord.DeferReply(s, i, true)

	if err := sc.speaker.Say(context.Background(), i.GuildID, channelID, text); err != nil {
		slog.Error("discord: speak", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		discord.FollowUpEphemeral(s, i, "An error occurred while processing your request.")
		return
	}
	discord.FollowUpEphemeral(s, i, "Speech delivered!")
}

// optionString returns the string option name of a slash command, or "".
func optionString(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}
