package scoring

import (
	"fmt"
	"math"

	"github.com/okian/pulse/internal/domain/model"
)

// Per-type candidate limits.
const (
	maxUnblock      = 2
	maxReviews      = 2
	maxIssues       = 3
	maxJourneyGoals = 2
)

// A blocked item starts at the highest urgency any other candidate can reach
// and carries full impact, so it is never outranked while blocked items exist.
const (
	unblockUrgency   = reviewMaxUrgency
	unblockImpact    = 1.0
	reviewImpact     = 0.5
	reviewFullHours  = 48.0
	reviewMaxUrgency = 0.9
	issueFullDays    = 7.0
	issueMaxUrgency  = 0.8
	journeyUrgency   = 0.4
	journeyImpact    = 0.9
	planningUrgency  = 0.5
	planningImpact   = 0.6
	defaultTrigger   = "If primary action is blocked"

	// unblockRamp is the number of blocked days that adds the remaining urgency.
	unblockRamp = 10.0
)

// Candidate is an action derived from context signals. Seq is the creation
// order used to break ties.
type Candidate struct {
	Seq          int
	Type         string
	Source       string
	Action       string
	RefID        string
	URL          string
	Reasoning    string
	TimeEstimate string
	Trigger      string
	BaseUrgency  float64
	BaseImpact   float64
}

// Candidates derives the candidate actions of snap in a fixed order:
// unblock, review, issue work, journey goals, maintenance. When nothing
// applies a single planning candidate is returned.
func Candidates(snap model.ContextSnapshot) []Candidate {
	var out []Candidate
	add := func(c Candidate) {
		c.Seq = len(out)
		if c.Trigger == "" {
			c.Trigger = defaultTrigger
		}
		out = append(out, c)
	}

	for _, b := range head(snap.BlockedItems, maxUnblock) {
		add(Candidate{
			Type:         model.ActionUnblock,
			Source:       string(model.SourceTracker),
			Action:       "Unblock: " + orUnknown(b.Title, "item"),
			RefID:        b.RefID,
			URL:          b.URL,
			Reasoning:    fmt.Sprintf("Item blocked since %s", b.BlockedSince.Format("2006-01-02 15:04 MST")),
			TimeEstimate: "30-60 minutes",
			BaseUrgency:  unblockUrgency + (1-unblockUrgency)*math.Min(1, b.DaysBlocked/unblockRamp),
			BaseImpact:   unblockImpact,
		})
	}

	// Blocked tickets outside the enrichment window still count.
	if n := snap.Metrics.TicketsBlockedNow; n > 0 && len(snap.BlockedItems) == 0 {
		add(Candidate{
			Type:         model.ActionUnblock,
			Source:       string(model.SourceTracker),
			Action:       fmt.Sprintf("Unblock: %d blocked ticket(s)", n),
			Reasoning:    fmt.Sprintf("%d ticket(s) currently blocked", n),
			TimeEstimate: "30-60 minutes",
			BaseUrgency:  unblockUrgency,
			BaseImpact:   unblockImpact,
		})
	}

	reviews := 0
	for _, pr := range snap.OpenPRs {
		if reviews == maxReviews {
			break
		}
		if !pr.NeedsReview {
			continue
		}
		reviews++
		add(Candidate{
			Type:         model.ActionPRReview,
			Source:       string(model.SourceVCS),
			Action:       "Review PR: " + orUnknown(pr.Title, "PR"),
			RefID:        pr.RefID,
			URL:          pr.URL,
			Reasoning:    fmt.Sprintf("PR aging for %.0f hours", pr.AgeHours),
			TimeEstimate: "15-30 minutes",
			Trigger:      "Between focused work sessions",
			BaseUrgency:  math.Min(reviewMaxUrgency, pr.AgeHours/reviewFullHours),
			BaseImpact:   reviewImpact,
		})
	}

	for _, is := range head(snap.ActiveIssues, maxIssues) {
		pm := model.PriorityWeight(is.Priority)
		add(Candidate{
			Type:         model.ActionIssueWork,
			Source:       string(model.SourceTracker),
			Action:       "Advance: " + orUnknown(is.Title, "issue"),
			RefID:        is.RefID,
			URL:          is.URL,
			Reasoning:    fmt.Sprintf("Issue in %s state for %.0f days", orUnknown(is.State, ""), is.AgeDays),
			TimeEstimate: "1-3 hours",
			BaseUrgency:  math.Min(issueMaxUrgency, is.AgeDays/issueFullDays) * pm,
			BaseImpact:   pm,
		})
	}

	goal := snap.Journey.DesiredState.Goal
	goals := snap.Journey.DesiredState.Milestones
	if len(goals) == 0 && goal != "" {
		goals = []string{goal}
	}
	for i, g := range head(goals, maxJourneyGoals) {
		add(Candidate{
			Type:         model.ActionJourneyGoal,
			Source:       "journey",
			Action:       "Advance journey goal: " + g,
			RefID:        fmt.Sprintf("journey:%s:%d", snap.Journey.ID, i),
			Reasoning:    "Strategic goal aligned with " + orUnknown(goal, "the journey"),
			TimeEstimate: "2-4 hours",
			Trigger:      "When a longer focus block is available",
			BaseUrgency:  journeyUrgency,
			BaseImpact:   journeyImpact,
		})
	}

	if snap.Time.Energy == model.LevelLow || snap.Time.EndOfDay {
		add(Candidate{
			Type:         model.ActionMaintenance,
			Source:       "system",
			Action:       "Review and update documentation",
			Reasoning:    "Low-energy task for end of day",
			TimeEstimate: "30-60 minutes",
			Trigger:      "If energy drops or the day is ending",
			BaseUrgency:  0.2,
			BaseImpact:   0.4,
		})
		add(Candidate{
			Type:         model.ActionMaintenance,
			Source:       "system",
			Action:       "Organize and clean up local development environment",
			Reasoning:    "Maintenance task suitable for low energy",
			TimeEstimate: "15-45 minutes",
			Trigger:      "If energy drops or the day is ending",
			BaseUrgency:  0.1,
			BaseImpact:   0.3,
		})
	}

	if len(out) == 0 {
		add(Candidate{
			Type:         model.ActionPlanning,
			Source:       "fallback",
			Action:       "Review project status and plan next steps",
			Reasoning:    "No specific actions identified, time for strategic review",
			TimeEstimate: "30-60 minutes",
			BaseUrgency:  planningUrgency,
			BaseImpact:   planningImpact,
		})
	}
	return out
}

// energyFit maps action type and energy level to alignment. Unblock has no
// row: it takes the best fit of the level.
var energyFit = map[string]map[string]float64{
	model.ActionJourneyGoal: {model.LevelHigh: 0.9, model.LevelMedium: 0.7, model.LevelLow: 0.3},
	model.ActionIssueWork:   {model.LevelHigh: 0.8, model.LevelMedium: 0.8, model.LevelLow: 0.4},
	model.ActionPRReview:    {model.LevelHigh: 0.6, model.LevelMedium: 0.8, model.LevelLow: 0.7},
	model.ActionMaintenance: {model.LevelHigh: 0.4, model.LevelMedium: 0.6, model.LevelLow: 0.9},
	model.ActionPlanning:    {model.LevelHigh: 0.7, model.LevelMedium: 0.8, model.LevelLow: 0.5},
}

// momentumFit rewards deep work while momentum is high and quick wins when it is low.
var momentumFit = map[string]map[string]float64{
	model.ActionJourneyGoal: {model.LevelHigh: 0.8, model.LevelMedium: 0.7, model.LevelLow: 0.4},
	model.ActionIssueWork:   {model.LevelHigh: 0.9, model.LevelMedium: 0.7, model.LevelLow: 0.5},
	model.ActionPRReview:    {model.LevelHigh: 0.6, model.LevelMedium: 0.7, model.LevelLow: 0.8},
	model.ActionMaintenance: {model.LevelHigh: 0.3, model.LevelMedium: 0.5, model.LevelLow: 0.8},
	model.ActionPlanning:    {model.LevelHigh: 0.4, model.LevelMedium: 0.6, model.LevelLow: 0.7},
}

const neutralFit = 0.6

// EnergyAlignment is how well an action type suits the energy level.
func EnergyAlignment(actionType, energy string) float64 {
	return lookup(energyFit, actionType, energy)
}

// MomentumAlignment is how well an action type suits the momentum level.
func MomentumAlignment(actionType, level string) float64 {
	return lookup(momentumFit, actionType, level)
}

func lookup(table map[string]map[string]float64, actionType, level string) float64 {
	if actionType == model.ActionUnblock {
		return bestFit(table, level)
	}
	if v, ok := table[actionType][level]; ok {
		return v
	}
	return neutralFit
}

func bestFit(table map[string]map[string]float64, level string) float64 {
	best, found := 0.0, false
	for _, row := range table {
		if v, ok := row[level]; ok {
			best, found = math.Max(best, v), true
		}
	}
	if !found {
		return neutralFit
	}
	return best
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func orUnknown(s, what string) string {
	if s != "" {
		return s
	}
	if what == "" {
		return "unknown"
	}
	return "Unknown " + what
}
