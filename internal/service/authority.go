package service

import (
	"github.com/helpdesk-labs/ticket-assignment/internal/domain"
)

// Capability is a set of assignment permissions.
type Capability uint8

const (
	CapAssignAny Capability = 1 << iota
	CapSelfAssign
	CapHoldLock
	CapOverride
	CapResolveConflict
	CapBulk
	CapUnassignAny
)

// Has reports whether every capability in want is present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Authorize returns the capabilities granted to role.
func Authorize(role domain.Role) Capability {
	switch role {
	case domain.RoleAdmin:
		return CapAssignAny | CapHoldLock | CapOverride | CapResolveConflict | CapBulk | CapUnassignAny
	case domain.RoleProjectManager:
		return CapAssignAny | CapHoldLock | CapBulk | CapUnassignAny
	case domain.RoleDeveloper:
		return CapSelfAssign
	default:
		return 0
	}
}

// AssignerContext identifies the caller of a coordinator operation.
type AssignerContext struct {
	ID   string
	Name string
	Role domain.Role
}

// Capabilities returns what the assigner may do.
func (a AssignerContext) Capabilities() Capability {
	return Authorize(a.Role)
}
