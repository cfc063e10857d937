// Package commands implements the glyphrec slash commands and the mention
// handler.
package commands

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphrec/internal/app"
)

// Recorder runs guild recordings. [*app.RecordingManager] implements it.
type Recorder interface {
	Begin(ctx context.Context, guildID, channelID, startedBy string) (app.RecordingInfo, error)
	StopGuild(ctx context.Context, guildID string) ([]string, error)
	IsRecording(guildID string) bool
	Leave(guildID string) bool
}

// Sayer plays synthesized speech. [*app.Speaker] implements it.
type Sayer interface {
	Say(ctx context.Context, guildID, channelID, text string) error
}

// VoiceLocator returns the voice channel userID is connected to in guildID.
type VoiceLocator func(guildID, userID string) (channelID string, ok bool)

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
