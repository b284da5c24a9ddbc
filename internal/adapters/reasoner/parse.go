package reasoner

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	sectionSituation = "SITUATION_ANALYSIS:"
	sectionPrimary   = "PRIMARY_REASONING:"
	sectionGoal      = "GOAL_ALIGNMENT:"
	sectionRanking   = "RANKING:"
)

// Parse splits a reply into its sections. Lines following a section header
// continue that section. A reply without any narrative section is malformed,
// as is a ranking that is not a permutation of 1..n.
func Parse(text string, n int) (Reasoning, error) {
	var (
		r       Reasoning
		current *string
		ranking string
		found   bool
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*#"))
		line = strings.TrimSpace(strings.TrimRight(line, "*"))
		switch {
		case strings.HasPrefix(line, sectionSituation):
			r.SituationAnalysis = after(line, sectionSituation)
			current, found = &r.SituationAnalysis, true
		case strings.HasPrefix(line, sectionPrimary):
			r.PrimaryReasoning = after(line, sectionPrimary)
			current, found = &r.PrimaryReasoning, true
		case strings.HasPrefix(line, sectionGoal):
			r.GoalAlignment = after(line, sectionGoal)
			current, found = &r.GoalAlignment, true
		case strings.HasPrefix(line, sectionRanking):
			ranking = after(line, sectionRanking)
			current = nil
		case line != "" && current != nil:
			if *current == "" {
				*current = line
			} else {
				*current += " " + line
			}
		}
	}
	if !found || r.SituationAnalysis+r.PrimaryReasoning+r.GoalAlignment == "" {
		return Reasoning{}, fmt.Errorf("%w: no reasoning sections", ErrMalformed)
	}
	if ranking != "" {
		order, err := parseRanking(ranking, n)
		if err != nil {
			return Reasoning{}, err
		}
		r.Ranking = order
	}
	return r, nil
}

// after strips the header and any markdown emphasis around it.
func after(line, header string) string {
	return strings.Trim(strings.TrimPrefix(line, header), "* ")
}

// parseRanking returns zero-based candidate indices.
func parseRanking(s string, n int) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '>' })
	if len(fields) != n {
		return nil, fmt.Errorf("%w: ranking lists %d of %d candidates", ErrMalformed, len(fields), n)
	}
	seen := make([]bool, n)
	order := make([]int, 0, n)
	for _, f := range fields {
		i, err := strconv.Atoi(strings.TrimSuffix(f, "."))
		if err != nil || i < 1 || i > n || seen[i-1] {
			return nil, fmt.Errorf("%w: ranking %q", ErrMalformed, s)
		}
		seen[i-1] = true
		order = append(order, i-1)
	}
	return order, nil
}
