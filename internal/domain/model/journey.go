package model

import "time"

// Momentum levels used by journeys and the momentum layer.
const (
	LevelHigh   = "high"
	LevelMedium = "medium"
	LevelLow    = "low"
)

// Journey is the long-lived goal context of a scope.
// At most one journey per scope is active; the store enforces it.
type Journey struct {
	ID           string       `json:"id"`
	Scope        string       `json:"scope"`
	DesiredState JourneyState `json:"desired_state"`
	CurrentState JourneyState `json:"current_state"`
	Preferences  Preferences  `json:"preferences"`
	IsActive     bool         `json:"is_active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// JourneyState describes either where a team wants to be or where it is.
type JourneyState struct {
	Goal       string         `json:"goal,omitempty" yaml:"goal"`
	Milestones []string       `json:"milestones,omitempty" yaml:"milestones"`
	TargetDate string         `json:"target_date,omitempty" yaml:"target_date"`
	Momentum   string         `json:"momentum,omitempty" yaml:"momentum"`
	Focus      []string       `json:"focus,omitempty" yaml:"focus"`
	Extra      map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// Preferences drive the energy layer.
type Preferences struct {
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`
	// EnergyPattern is one of morning (default), afternoon, evening.
	EnergyPattern string    `json:"energy_pattern,omitempty" yaml:"energy_pattern"`
	WorkHours     WorkHours `json:"work_hours" yaml:"work_hours"`
}

// WorkHours is a [Start, End) local hour range.
type WorkHours struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}
