package engine

import (
	"fmt"

	"github.com/okian/pulse/internal/domain/model"
	"github.com/okian/pulse/internal/domain/scoring"
)

const (
	perfectEnergyFit = 0.8
	goodEnergyFit    = 0.6
)

// MomentumInsight describes the activity trend.
func MomentumInsight(m model.Momentum) string {
	switch m.Trend {
	case model.TrendIncreasing:
		return fmt.Sprintf("Momentum is strong (↑%.1fx). Great time to tackle challenging work.", m.Ratio)
	case model.TrendDecreasing:
		return fmt.Sprintf("Activity has slowed (↓%.1fx). Consider quick wins to rebuild momentum.", m.Ratio)
	default:
		return "Activity is steady. Good time for consistent progress on priorities."
	}
}

// EnergyMatch describes how the action fits the current energy level.
func EnergyMatch(s scoring.Scored, energy string) string {
	switch {
	case s.Factors.Energy >= perfectEnergyFit:
		return fmt.Sprintf("Perfect match for %s energy level", energy)
	case s.Factors.Energy >= goodEnergyFit:
		return fmt.Sprintf("Good fit for current %s energy", energy)
	default:
		return fmt.Sprintf("May be challenging given %s energy level", energy)
	}
}

// narrative is the text attached to a response.
type narrative struct {
	summary   string
	why       string
	alignment string
}

// fallbackNarrative is derived from Phase A alone.
func fallbackNarrative(snap model.ContextSnapshot, r scoring.Ranking) narrative {
	goal := snap.Journey.DesiredState.Goal
	if goal == "" {
		goal = "the team goals"
	}
	return narrative{
		summary: fmt.Sprintf("Based on %d possible actions. Current energy: %s. %d blocked items, %d open PRs.",
			r.Considered, snap.Time.Energy, len(snap.BlockedItems), len(snap.OpenPRs)),
		why:       fmt.Sprintf("%s. Score: %.2f", r.Primary.Reasoning, r.Primary.Composite),
		alignment: fmt.Sprintf("This %s supports your journey toward %s.", r.Primary.Type, goal),
	}
}
