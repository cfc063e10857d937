// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Reaction records one MessageReactionAdd call.
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// InteractionResponder records interaction responses and message reactions
// for test assertions. It is safe for concurrent use.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Reactions records all MessageReactionAdd calls.
	Reactions []Reaction

	// Err is returned by InteractionRespond and FollowupMessageCreate
	// when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// MessageReactionAdd records the reaction.
func (m *InteractionResponder) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reactions = append(m.Reactions, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastFollowUp returns the most recently recorded follow-up, or nil.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FollowUps) == 0 {
		return nil
	}
	return m.FollowUps[len(m.FollowUps)-1]
}

// LastReaction returns the most recently recorded reaction.
func (m *InteractionResponder) LastReaction() (Reaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Reactions) == 0 {
		return Reaction{}, false
	}
	return m.Reactions[len(m.Reactions)-1], true
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.FollowUps = nil
	m.Reactions = nil
	m.Err = nil
}
