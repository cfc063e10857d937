package discord

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for slash command handlers.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// commandEntry stores a command definition along with its handler.
type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches Discord interactions to registered handlers.
type CommandRouter struct {
	mu       sync.RWMutex
	commands map[string]commandEntry // command name → entry
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{commands: make(map[string]commandEntry)}
}

// RegisterCommand registers a handler for a slash command. The cmd
// definition is used when registering commands with Discord.
func (r *CommandRouter) RegisterCommand(cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = commandEntry{command: cmd, handler: handler}
}

// ApplicationCommands returns the command definitions for registration with
// the Discord API, sorted by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, entry := range r.commands {
		cmds = append(cmds, entry.command)
	}
	sort.Slice(cmds, func(a, b int) bool { return cmds[a].Name < cmds[b].Name })
	return cmds
}

// Handle dispatches an interaction to the appropriate handler. A panicking
// handler is logged and the user gets a generic error message.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: unhandled interaction type", "type", i.Type)
		return
	}
	r.dispatch(s, i, func(h HandlerFunc) { h(s, i) })
}

// dispatch looks up the handler of i and runs it through call.
func (r *CommandRouter) dispatch(s Responder, i *discordgo.InteractionCreate, call func(HandlerFunc)) {
	name := i.ApplicationCommandData().Name

	r.mu.RLock()
	entry, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown command", "name", name)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: command panicked", "name", name, "panic", fmt.Sprint(p))
			respondOrFollowUp(s, i, "There was an error while executing this command!")
		}
	}()
	call(entry.handler)
}

// respondOrFollowUp answers i with an ephemeral message, falling back to a
// follow-up when the interaction was already acknowledged.
func respondOrFollowUp(s Responder, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		FollowUpEphemeral(s, i, content)
	}
}
