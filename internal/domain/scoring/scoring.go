// Package scoring ranks candidate actions with a deterministic weighted sum
// of four factors: urgency, impact, momentum alignment and energy alignment.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/pulse/internal/domain/model"
)

// Default scoring configuration constants.
const (
	defaultWeight       = 0.25
	defaultAlternatives = 3
	weightTolerance     = 1e-6
	maxConfidence       = 0.95
)

// Weights are the factor coefficients of the composite score.
type Weights struct {
	Urgency  float64 `json:"urgency_weight"`
	Impact   float64 `json:"impact_weight"`
	Momentum float64 `json:"momentum_weight"`
	Energy   float64 `json:"energy_weight"`
}

// DefaultWeights weighs every factor equally.
func DefaultWeights() Weights {
	return Weights{Urgency: defaultWeight, Impact: defaultWeight, Momentum: defaultWeight, Energy: defaultWeight}
}

// Validate rejects negative weights and weights that do not sum to 1.0.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Urgency, w.Impact, w.Momentum, w.Energy} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative weight", ErrInvalidWeights)
		}
	}
	if sum := w.Urgency + w.Impact + w.Momentum + w.Energy; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: sum is %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// Key identifies a weight configuration in feedback statistics.
func (w Weights) Key() string {
	return fmt.Sprintf("u%.2f-i%.2f-m%.2f-e%.2f", w.Urgency, w.Impact, w.Momentum, w.Energy)
}

// Factors are the per-candidate inputs of the composite, each in [0,1].
type Factors struct {
	Urgency  float64
	Impact   float64
	Momentum float64
	Energy   float64
}

// Composite is the weighted sum of f.
func (w Weights) Composite(f Factors) float64 {
	return w.Urgency*f.Urgency + w.Impact*f.Impact + w.Momentum*f.Momentum + w.Energy*f.Energy
}

// Scored is a candidate with its factors and composite score.
type Scored struct {
	Candidate
	Factors
	Composite float64
}

// Confidence is a heuristic in [0, 0.95] derived from the non-energy factors.
func (s Scored) Confidence() float64 {
	return math.Min(maxConfidence, (s.Factors.Urgency+s.Factors.Impact+s.Factors.Momentum)/3)
}

// ExpectedImpact discounts impact by momentum alignment.
func (s Scored) ExpectedImpact() float64 {
	return s.Factors.Impact * s.Factors.Momentum
}

// Score converts s into its debug representation.
func (s Scored) Score() model.CandidateScore {
	return model.CandidateScore{
		Type:      s.Type,
		Action:    s.Action,
		Urgency:   s.Factors.Urgency,
		Impact:    s.Factors.Impact,
		Momentum:  s.Factors.Momentum,
		Energy:    s.Factors.Energy,
		Composite: s.Composite,
	}
}

// Ranking is the Phase A result. Primary is always set.
type Ranking struct {
	Primary      Scored
	Alternatives []Scored
	// Considered is the number of candidates scored.
	Considered int
	All        []Scored
	WeightsKey string
}

// Scorer ranks the candidates of a context snapshot.
type Scorer interface {
	Rank(snap model.ContextSnapshot) Ranking
	Weights() Weights
}

// Option applies a configuration option to the WeightedScorer.
type Option func(*WeightedScorer)

// WithWeights sets the factor weights; New validates them.
func WithWeights(w Weights) Option {
	return func(s *WeightedScorer) {
		s.weights = w
	}
}

// WithAlternatives sets how many runner-up candidates are returned.
func WithAlternatives(k int) Option {
	return func(s *WeightedScorer) {
		if k >= 0 {
			s.alternatives = k
		}
	}
}

// WeightedScorer implements Scorer. It holds no mutable state.
type WeightedScorer struct {
	weights      Weights
	alternatives int
}

// New creates a WeightedScorer; it fails on invalid weights.
func New(opts ...Option) (*WeightedScorer, error) {
	s := &WeightedScorer{
		weights:      DefaultWeights(),
		alternatives: defaultAlternatives,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.weights.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Weights returns the configured weights.
func (s *WeightedScorer) Weights() Weights { return s.weights }

// Rank scores every candidate derived from snap. The highest composite wins;
// equal composites keep candidate creation order.
func (s *WeightedScorer) Rank(snap model.ContextSnapshot) Ranking {
	cands := Candidates(snap)
	all := make([]Scored, 0, len(cands))
	for _, c := range cands {
		f := Factors{
			Urgency:  clamp(c.BaseUrgency),
			Impact:   clamp(c.BaseImpact),
			Momentum: MomentumAlignment(c.Type, snap.Momentum.Level),
			Energy:   EnergyAlignment(c.Type, snap.Time.Energy),
		}
		all = append(all, Scored{Candidate: c, Factors: f, Composite: s.weights.Composite(f)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Composite > all[j].Composite
	})

	r := Ranking{
		Primary:    all[0],
		Considered: len(all),
		All:        all,
		WeightsKey: s.weights.Key(),
	}
	end := min(len(all), 1+s.alternatives)
	r.Alternatives = append([]Scored{}, all[1:end]...)
	return r
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
