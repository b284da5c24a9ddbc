package model

import "time"

// ContextSnapshot is assembled per scoring request and embedded verbatim
// in the resulting recommendation.
type ContextSnapshot struct {
	Scope            string          `json:"scope"`
	BuiltAt          time.Time       `json:"built_at"`
	Journey          Journey         `json:"journey"`
	Metrics          MetricsSnapshot `json:"metrics_window"`
	MetricsExpiresAt time.Time       `json:"metrics_expires_at"`
	RecentEvents     []Event         `json:"recent_events"`
	CacheHits        []string        `json:"cache_hits"`

	BlockedItems          []BlockedItem          `json:"blocked_items"`
	OpenPRs               []OpenPR               `json:"open_prs"`
	ActiveIssues          []ActiveIssue          `json:"active_issues"`
	Momentum              Momentum               `json:"momentum"`
	Time                  TimeContext            `json:"time_context"`
	RecentRecommendations []RecommendationDigest `json:"recent_recommendations"`
	Layers                []string               `json:"context_layers"`
}

// BlockedItem is a ticket whose latest known state is blocked.
type BlockedItem struct {
	RefID        string    `json:"ref_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	Priority     int       `json:"priority"`
	BlockedSince time.Time `json:"blocked_since"`
	DaysBlocked  float64   `json:"days_blocked"`
}

// OpenPR is a pull request without a terminal event in the enrichment window.
type OpenPR struct {
	RefID       string    `json:"ref_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Repo        string    `json:"repo,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
	AgeHours    float64   `json:"age_hours"`
	Reviewed    bool      `json:"reviewed"`
	NeedsReview bool      `json:"needs_review"`
}

// ActiveIssue is a non-blocked ticket touched during the enrichment window.
type ActiveIssue struct {
	RefID     string    `json:"ref_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Priority  int       `json:"priority"`
	State     string    `json:"state,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	AgeDays   float64   `json:"age_days"`
}

// Trend values for Momentum.
const (
	TrendIncreasing = "increasing"
	TrendStable     = "stable"
	TrendDecreasing = "decreasing"
)

// Momentum compares the last three days of activity with the three before.
type Momentum struct {
	Recent   int     `json:"recent_events"`
	Previous int     `json:"previous_events"`
	Ratio    float64 `json:"ratio"`
	Trend    string  `json:"trend"`
	// Level is the effective momentum: the journey's declared level when set,
	// otherwise derived from Trend.
	Level string `json:"level"`
}

// TimeContext is the scope-local clock and derived energy level.
type TimeContext struct {
	Local       time.Time `json:"local_time"`
	Hour        int       `json:"hour"`
	Weekday     string    `json:"weekday"`
	Energy      string    `json:"energy_level"`
	InWorkHours bool      `json:"in_work_hours"`
	EndOfDay    bool      `json:"end_of_day"`
}

// RecommendationDigest summarizes a prior recommendation for context.
type RecommendationDigest struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome,omitempty"`
	FeedbackScore *int      `json:"feedback_score,omitempty"`
}
