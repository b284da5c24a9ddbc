package reasoner

import (
	"fmt"
	"strings"

	"github.com/okian/pulse/internal/domain/model"
)

const systemPrompt = "You are an assistant helping prioritize engineering tasks. " +
	"Provide clear, concise reasoning for task recommendations based on context. Be specific and actionable."

// Prompt renders the user message for req. Candidates are numbered from 1
// in Phase A order so a RANKING line can refer to them.
func Prompt(req Request) string {
	var b strings.Builder
	snap := req.Snapshot
	primary := req.Candidates[0]

	b.WriteString("I need to prioritize my next action. Here's the context:\n\n")
	fmt.Fprintf(&b, "RECOMMENDED ACTION: %s\n", primary.Action)
	fmt.Fprintf(&b, "Action Type: %s\n", primary.Type)
	fmt.Fprintf(&b, "Urgency: %.2f\n", primary.Factors.Urgency)
	fmt.Fprintf(&b, "Importance: %.2f\n", primary.Factors.Impact)
	fmt.Fprintf(&b, "Score: %.2f\n\n", primary.Composite)

	b.WriteString("CANDIDATES:\n")
	for i, c := range req.Candidates {
		fmt.Fprintf(&b, "%d. [%s] %s (score %.2f)\n", i+1, c.Type, c.Action, c.Composite)
	}

	j := snap.Journey
	b.WriteString("\nJOURNEY CONTEXT:\n")
	fmt.Fprintf(&b, "Goal: %s\n", or(j.DesiredState.Goal, "Team delivery"))
	fmt.Fprintf(&b, "Current Status: %s\n", or(j.CurrentState.Goal, "Working"))
	fmt.Fprintf(&b, "Timeline: %s\n", or(j.DesiredState.TargetDate, "Unknown"))
	if len(j.DesiredState.Milestones) > 0 {
		fmt.Fprintf(&b, "Milestones: %s\n", strings.Join(j.DesiredState.Milestones, "; "))
	}

	t := snap.Time
	b.WriteString("\nTIME CONTEXT:\n")
	fmt.Fprintf(&b, "Current Time: %s\n", t.Local.Format("Mon 15:04 MST"))
	fmt.Fprintf(&b, "Energy Level: %s\n", or(t.Energy, model.LevelMedium))
	fmt.Fprintf(&b, "In Work Hours: %t\n", t.InWorkHours)
	fmt.Fprintf(&b, "End Of Day: %t\n", t.EndOfDay)

	m := snap.Momentum
	b.WriteString("\nMOMENTUM:\n")
	fmt.Fprintf(&b, "Trend: %s\n", or(m.Trend, model.TrendStable))
	fmt.Fprintf(&b, "Recent Activity: %d events\n", m.Recent)
	fmt.Fprintf(&b, "Velocity Change: %.1fx\n", m.Ratio)

	mt := snap.Metrics
	fmt.Fprintf(&b, "\nCURRENT METRICS (%.0fh):\n", mt.WindowHours)
	fmt.Fprintf(&b, "PRs opened: %d\n", mt.PRsOpened)
	fmt.Fprintf(&b, "PRs merged: %d\n", mt.PRsMerged)
	fmt.Fprintf(&b, "Tickets moved: %d\n", mt.TicketsMoved)
	fmt.Fprintf(&b, "Blocked tickets: %d\n", mt.TicketsBlockedNow)

	b.WriteString("\nPlease provide reasoning in this format:\n")
	b.WriteString(sectionSituation + " [Brief analysis of current situation]\n")
	b.WriteString(sectionPrimary + " [Why this specific action is the best choice right now]\n")
	b.WriteString(sectionGoal + " [How this action advances the journey goals]\n")
	if req.AllowRerank {
		b.WriteString(sectionRanking + " [Optional: candidate numbers in your preferred order, e.g. 2,1,3]\n")
	}
	return b.String()
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
