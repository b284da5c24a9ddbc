package model

import "time"

// Candidate action types produced by Phase A.
const (
	ActionUnblock     = "unblock"
	ActionPRReview    = "pr_review"
	ActionIssueWork   = "issue_work"
	ActionJourneyGoal = "journey_goal"
	ActionMaintenance = "maintenance"
	ActionPlanning    = "planning"
)

// Feedback outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeProgress  = "progress"
	OutcomeBlocked   = "blocked"
	OutcomeDeferred  = "deferred"
	OutcomeSkipped   = "skipped"
)

// Recommendation is created once per scoring invocation. Feedback fields are
// nil until the feedback loop records them.
type Recommendation struct {
	ID         string          `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	Scope      string          `json:"scope"`
	JourneyID  string          `json:"journey_id"`
	WeightsKey string          `json:"weights_key"`
	Snapshot   ContextSnapshot `json:"context_snapshot"`
	Response   Response        `json:"response"`

	ActionTaken    *string    `json:"action_taken,omitempty"`
	Outcome        *string    `json:"outcome,omitempty"`
	FeedbackScore  *int       `json:"feedback_score,omitempty"`
	TimeToComplete *int       `json:"time_to_complete_minutes,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Response is the wire form returned to callers.
type Response struct {
	RecommendationID string        `json:"recommendation_id"`
	GeneratedAt      time.Time     `json:"generated_at"`
	ContextID        string        `json:"context_id"`
	PrimaryAction    PrimaryAction `json:"primary_action"`
	Alternatives     []Alternative `json:"alternatives"`
	ContextSummary   string        `json:"context_summary"`
	JourneyAlignment string        `json:"journey_alignment"`
	MomentumInsight  string        `json:"momentum_insight"`
	EnergyMatch      string        `json:"energy_match"`
	DebugInfo        DebugInfo     `json:"debug_info"`
}

// PrimaryAction is the top-ranked candidate.
type PrimaryAction struct {
	Action         string  `json:"action"`
	Why            string  `json:"why"`
	ExpectedImpact float64 `json:"expected_impact"`
	TimeEstimate   string  `json:"time_estimate"`
	Confidence     float64 `json:"confidence"`
	Urgency        float64 `json:"urgency"`
	Importance     float64 `json:"importance"`
}

// Alternative is a runner-up candidate.
type Alternative struct {
	Action         string `json:"action"`
	Why            string `json:"why"`
	WhenToConsider string `json:"when_to_consider"`
	TimeEstimate   string `json:"time_estimate"`
}

// DebugInfo exposes how the response was produced.
type DebugInfo struct {
	TotalActionsConsidered int              `json:"total_actions_considered"`
	ContextLayers          []string         `json:"context_layers"`
	AIReasoningUsed        bool             `json:"ai_reasoning_used"`
	FallbackReason         string           `json:"fallback_reason,omitempty"`
	Scores                 []CandidateScore `json:"scores,omitempty"`
}

// CandidateScore records the Phase A factors of one ranked candidate.
type CandidateScore struct {
	Type      string  `json:"type"`
	Action    string  `json:"action"`
	Urgency   float64 `json:"urgency"`
	Impact    float64 `json:"impact"`
	Momentum  float64 `json:"momentum"`
	Energy    float64 `json:"energy"`
	Composite float64 `json:"composite"`
}

// Feedback is a submission against a recommendation. Nil fields are stored as null.
type Feedback struct {
	ActionTaken    *string `json:"action_taken,omitempty"`
	Outcome        *string `json:"outcome,omitempty"`
	FeedbackScore  *int    `json:"feedback_score,omitempty"`
	TimeToComplete *int    `json:"time_to_complete_minutes,omitempty"`
}

// WeightStats aggregates feedback for one weight configuration.
type WeightStats struct {
	WeightsKey            string         `json:"weights_key"`
	Recommendations       int            `json:"recommendations"`
	Rated                 int            `json:"rated"`
	MeanScore             float64        `json:"mean_score"`
	Outcomes              map[string]int `json:"outcomes"`
	MeanMinutesToComplete float64        `json:"mean_minutes_to_complete"`
}
