package identity

import "slices"

// Memory scopes.
const (
	ScopeCompanion   = "companion"
	ScopeEngineering = "engineering"
	ScopePlatform    = "platform"
	ScopeSimulation  = "simulation"
)

// Permissions is the read-only snapshot of what a user may do this turn.
// Derive it fresh for every turn; never cache it.
type Permissions struct {
	UserID   string
	Role     string
	UserType string

	IsAdmin     bool
	IsWorkforce bool

	CanReadSprint   bool
	CanWriteSprint  bool
	CanWriteBacklog bool
	CanSearchWeb    bool

	WorkspaceConnected  bool
	LightsConnected     bool
	// SchedulingConnected is set by the caller when a reminder scheduler
	// is wired; user state does not decide it.
	SchedulingConnected bool

	DefaultScope string
}

// Derive computes the permission snapshot for u under mc.
func Derive(u User, mc MasterConfig) Permissions {
	p := Permissions{
		UserID:             u.ID,
		Role:               u.Role,
		UserType:           u.UserType,
		IsAdmin:            u.Role == RoleOwner || u.Role == RoleAdmin || slices.Contains(mc.AdminUserIDs, u.ID),
		CanSearchWeb:       u.Settings.WebSearch,
		WorkspaceConnected: u.Settings.WorkspaceConnected,
		LightsConnected:    u.Settings.LightsConnected,
	}

	switch u.UserType {
	case TypeEngineer:
		p.IsWorkforce = true
		p.CanReadSprint = true
		p.CanWriteSprint = true
		p.CanWriteBacklog = true
		p.DefaultScope = ScopeEngineering
	case TypePlatform:
		p.IsWorkforce = true
		p.CanReadSprint = true
		p.CanWriteBacklog = true
		p.DefaultScope = ScopePlatform
	case TypeSimulation:
		p.DefaultScope = ScopeSimulation
	default:
		p.DefaultScope = ScopeCompanion
	}
	return p
}
