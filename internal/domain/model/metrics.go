package model

import "time"

// MetricsSnapshot aggregates events over a rolling window ending at AsOf.
// AvgReviewHours is 0 when ReviewSamples is 0; the sample count tells
// "no reviews" apart from instant reviews.
type MetricsSnapshot struct {
	AsOf              time.Time `json:"as_of"`
	WindowHours       float64   `json:"window_hours"`
	PRsOpened         int       `json:"prs_open"`
	PRsMerged         int       `json:"prs_merged"`
	PRsClosed         int       `json:"prs_closed"`
	Pushes            int       `json:"pushes"`
	Reviews           int       `json:"reviews"`
	AvgReviewHours    float64   `json:"avg_review_hours"`
	ReviewSamples     int       `json:"review_samples"`
	TicketsCreated    int       `json:"tickets_created"`
	TicketsMoved      int       `json:"tickets_moved"`
	TicketsBlockedNow int       `json:"tickets_blocked_now"`
	TotalEvents       int       `json:"total_events"`
}

// DailyMetrics is the persisted per-day aggregate, replaced wholesale on recompute.
type DailyMetrics struct {
	Date       string          `json:"as_of_date"`
	Scope      string          `json:"scope"`
	Metrics    MetricsSnapshot `json:"metrics"`
	ComputedAt time.Time       `json:"computed_at"`
}
