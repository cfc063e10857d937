package commands

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphrec/internal/app"
)

// fakeRecorder is a hand-written Recorder double.
type fakeRecorder struct {
	mu sync.Mutex

	recording map[string]bool
	connected map[string]bool

	beginErr error
	stopErr  error
	paths    []string

	begins []string // "guild/channel/user"
	stops  []string
}

func (f *fakeRecorder) Begin(_ context.Context, guildID, channelID, startedBy string) (app.RecordingInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins = append(f.begins, guildID+"/"+channelID+"/"+startedBy)
	if f.beginErr != nil {
		return app.RecordingInfo{}, f.beginErr
	}
	if f.recording == nil {
		f.recording = make(map[string]bool)
	}
	f.recording[guildID] = true
	return app.RecordingInfo{
		SessionID: "sess-1",
		GuildID:   guildID,
		ChannelID: channelID,
		StartedBy: startedBy,
		Speakers:  []string{"alice", "bob"},
	}, nil
}

func (f *fakeRecorder) StopGuild(_ context.Context, guildID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, guildID)
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	delete(f.recording, guildID)
	return f.paths, nil
}

func (f *fakeRecorder) IsRecording(guildID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording[guildID]
}

func (f *fakeRecorder) Leave(guildID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording[guildID] || !f.connected[guildID] {
		return false
	}
	delete(f.connected, guildID)
	return true
}

// fakeSayer records Say calls.
type fakeSayer struct {
	mu    sync.Mutex
	err   error
	calls []string // "guild/channel/text"
}

func (f *fakeSayer) Say(_ context.Context, guildID, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, guildID+"/"+channelID+"/"+text)
	return f.err
}

func (f *fakeSayer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// voiceStates builds a VoiceLocator from "guild/user" → channel.
func voiceStates(states map[string]string) VoiceLocator {
	return func(guildID, userID string) (string, bool) {
		ch, ok := states[guildID+"/"+userID]
		return ch, ok
	}
}

// guildInteraction builds a slash command interaction from userID in guildID.
func guildInteraction(name, guildID, channelID, userID string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: channelID,
			Member:    &discordgo.Member{User: &discordgo.User{ID: userID}},
			Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
		},
	}
}
