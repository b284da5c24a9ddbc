package model

import (
	"encoding/json"
	"time"
)

// VCSMeta is the metadata envelope written by the version-control normalizer.
// Raw holds the upstream event verbatim.
type VCSMeta struct {
	Repo              string          `json:"repo"`
	Action            string          `json:"action,omitempty"`
	Number            int             `json:"number,omitempty"`
	Merged            bool            `json:"merged,omitempty"`
	PRCreatedAt       *time.Time      `json:"pr_created_at,omitempty"`
	ReviewSubmittedAt *time.Time      `json:"review_submitted_at,omitempty"`
	ReviewState       string          `json:"review_state,omitempty"`
	Commits           int             `json:"commits,omitempty"`
	Raw               json.RawMessage `json:"raw"`
}

// TicketState mirrors the tracker workflow state.
type TicketState struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// TrackerMeta is the metadata envelope written by the issue-tracker normalizer.
type TrackerMeta struct {
	Identifier string          `json:"identifier"`
	Team       string          `json:"team,omitempty"`
	State      TicketState     `json:"state"`
	Priority   int             `json:"priority"`
	Labels     []string        `json:"labels,omitempty"`
	Blocked    bool            `json:"blocked"`
	Assignee   string          `json:"assignee,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Raw        json.RawMessage `json:"raw"`
}

// DecodeVCSMeta reads the documented vcs envelope; unknown shapes yield ok=false.
func DecodeVCSMeta(e Event) (VCSMeta, bool) {
	var m VCSMeta
	if e.Source != SourceVCS || len(e.Meta) == 0 {
		return m, false
	}
	if err := json.Unmarshal(e.Meta, &m); err != nil {
		return m, false
	}
	return m, true
}

// DecodeTrackerMeta reads the documented tracker envelope.
func DecodeTrackerMeta(e Event) (TrackerMeta, bool) {
	var m TrackerMeta
	if e.Source != SourceTracker || len(e.Meta) == 0 {
		return m, false
	}
	if err := json.Unmarshal(e.Meta, &m); err != nil {
		return m, false
	}
	return m, true
}

// Tracker priority values (0 = none, 1 = urgent ... 4 = low).
const (
	PriorityNone   = 0
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityNormal = 3
	PriorityLow    = 4
)

// PriorityWeight maps a tracker priority to an impact value in [0,1].
func PriorityWeight(p int) float64 {
	switch p {
	case PriorityUrgent:
		return 1.0
	case PriorityHigh:
		return 0.8
	case PriorityNormal:
		return 0.6
	case PriorityLow:
		return 0.4
	default:
		return 0.3
	}
}

// PriorityLabel names a tracker priority.
func PriorityLabel(p int) string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "none"
	}
}
