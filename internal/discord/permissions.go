package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord user has the recorder role
// before executing recording commands.
type PermissionChecker struct {
	roleID string
}

// NewPermissionChecker creates a PermissionChecker with the given role ID.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{roleID: roleID}
}

// CanRecord checks whether the interaction author may start and stop
// recordings. If the role ID is empty, every guild member may.
// Returns false if the interaction has no Member (e.g., DM channel interactions).
func (p *PermissionChecker) CanRecord(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if p.roleID == "" {
		return true
	}
	return slices.Contains(i.Member.Roles, p.roleID)
}
