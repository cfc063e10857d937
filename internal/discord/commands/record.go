package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphrec/internal/app"
	"github.com/MrWong99/glyphrec/internal/discord"
)

// startTimeout bounds joining the channel and starting every present
// speaker. Stopping is not bounded: files are always written to completion.
const startTimeout = 45 * time.Second

// maxListedFiles caps the file list in the /stoprecord reply so it stays
// below Discord's message size limit.
const maxListedFiles = 20

// RecordCommands holds the dependencies for /record and /stoprecord.
type RecordCommands struct {
	rec   Recorder
	perms *discord.PermissionChecker
	voice VoiceLocator
}

// NewRecordCommands creates a RecordCommands and registers its handlers
// with router.
func NewRecordCommands(router *discord.CommandRouter, rec Recorder, perms *discord.PermissionChecker, voice VoiceLocator) *RecordCommands {
	rc := &RecordCommands{rec: rec, perms: perms, voice: voice}
	rc.Register(router)
	return rc
}

// Register registers /record and /stoprecord with the router.
func (rc *RecordCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "record",
		Description: "Starts recording audio in your current voice channel.",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) { rc.record(s, i) })

	router.RegisterCommand(&discordgo.ApplicationCommand{
		Name:        "stoprecord",
		Description: "Stops recording audio and saves the files.",
	}, func(s *discordgo.Session, i *discordgo.InteractionCreate) { rc.stop(s, i) })
}

// record handles /record.
func (rc *RecordCommands) record(s discord.Responder, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		discord.RespondEphemeral(s, i, "This command can only be used in a server.")
		return
	}
	if !rc.perms.CanRecord(i) {
		discord.RespondEphemeral(s, i, "You need the recorder role to start a recording.")
		return
	}
	userID := interactionUserID(i)
	channelID, ok := rc.voice(i.GuildID, userID)
	if !ok {
		discord.RespondEphemeral(s, i, "You must be in a voice channel to start recording.")
		return
	}
	if rc.rec.IsRecording(i.GuildID) {
		discord.RespondEphemeral(s, i, "I am already recording in this server.")
		return
	}

	// Joining may take a moment.
	discord.DeferReply(s, i, false)

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	info, err := rc.rec.Begin(ctx, i.GuildID, channelID, userID)
	switch {
	case errors.Is(err, app.ErrAlreadyRecording):
		discord.FollowUp(s, i, "I am already recording in this server.")
		return
	case err != nil:
		slog.Error("discord: start recording", "guild_id", i.GuildID, "channel_id", channelID, "err", err)
		discord.FollowUp(s, i, "Failed to start recording. Please check permissions and try again.")
		return
	}

	discord.FollowUp(s, i, fmt.Sprintf(
		"Recording started in <#%s>.\n**Speakers:** %d (others are picked up when they talk)\n**Session:** `%s`",
		info.ChannelID,
		len(info.Speakers),
		info.SessionID,
	))
}

// stop handles /stoprecord.
func (rc *RecordCommands) stop(s discord.Responder, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		discord.RespondEphemeral(s, i, "This command can only be used in a server.")
		return
	}
	if !rc.perms.CanRecord(i) {
		discord.RespondEphemeral(s, i, "You need the recorder role to stop a recording.")
		return
	}
	if !rc.rec.IsRecording(i.GuildID) {
		if rc.rec.Leave(i.GuildID) {
			discord.RespondEphemeral(s, i, "No active recording was found, but I left the voice channel.")
			return
		}
		discord.RespondEphemeral(s, i, "I am not currently recording in this server.")
		return
	}

	// Transcoding every speaker may take a while.
	discord.DeferReply(s, i, false)

	paths, err := rc.rec.StopGuild(context.Background(), i.GuildID)
	if errors.Is(err, app.ErrNotRecording) {
		discord.FollowUp(s, i, "I am not currently recording in this server.")
		return
	}
	if err != nil {
		slog.Error("discord: stop recording", "guild_id", i.GuildID, "err", err)
		discord.FollowUp(s, i, "Error while stopping the recording.")
		return
	}
	discord.FollowUp(s, i, stopSummary(paths))
}

// stopSummary formats the /stoprecord reply for the saved files.
func stopSummary(paths []string) string {
	if len(paths) == 0 {
		return "Recording stopped. No audio was captured."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recording stopped. Saved %d file(s):", len(paths))
	for n, p := range paths {
		if n == maxListedFiles {
			fmt.Fprintf(&b, "\n…and %d more", len(paths)-n)
			break
		}
		fmt.Fprintf(&b, "\n- `%s`", filepath.Base(p))
	}
	return b.String()
}
