package identity

// Roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User types. The type implies the default memory scope.
const (
	TypeCompanion  = "companion"
	TypeEngineer   = "engineer"
	TypePlatform   = "platform"
	TypeSimulation = "simulation"
)

// Settings are the user-controlled preferences stored with the user.
type Settings struct {
	PersonalPrompt     string `json:"personal_prompt,omitempty"`
	PreferredName      string `json:"preferred_name,omitempty"`
	Timezone           string `json:"timezone,omitempty"`
	WebSearch          bool   `json:"web_search"`
	WorkspaceConnected bool   `json:"workspace_connected"`
	LightsConnected    bool   `json:"lights_connected"`
}

// SettingsPatch lists the settings to change. Nil fields are kept.
type SettingsPatch struct {
	PersonalPrompt     *string `json:"personal_prompt,omitempty"`
	PreferredName      *string `json:"preferred_name,omitempty"`
	Timezone           *string `json:"timezone,omitempty"`
	WebSearch          *bool   `json:"web_search,omitempty"`
	WorkspaceConnected *bool   `json:"workspace_connected,omitempty"`
	LightsConnected    *bool   `json:"lights_connected,omitempty"`
}

func (s Settings) apply(p SettingsPatch) Settings {
	if p.PersonalPrompt != nil {
		s.PersonalPrompt = *p.PersonalPrompt
	}
	if p.PreferredName != nil {
		s.PreferredName = *p.PreferredName
	}
	if p.Timezone != nil {
		s.Timezone = *p.Timezone
	}
	if p.WebSearch != nil {
		s.WebSearch = *p.WebSearch
	}
	if p.WorkspaceConnected != nil {
		s.WorkspaceConnected = *p.WorkspaceConnected
	}
	if p.LightsConnected != nil {
		s.LightsConnected = *p.LightsConnected
	}
	return s
}

// User is a resolved identity with decoded settings.
type User struct {
	ID       string
	Name     string
	Email    string
	Role     string
	UserType string
	Settings Settings
}

// MasterConfig is the operator-authored configuration shared by all users.
type MasterConfig struct {
	Persona        string   `yaml:"persona" json:"persona"`
	Goal           string   `yaml:"goal" json:"goal"`
	ImmutableRules []string `yaml:"immutable_rules" json:"immutable_rules"`
	AdminUserIDs   []string `yaml:"admin_user_ids" json:"admin_user_ids"`
	WorkforceTeam  string   `yaml:"workforce_team" json:"workforce_team"`
}
