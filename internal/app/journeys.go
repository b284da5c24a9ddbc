package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/okian/pulse/internal/domain/model"
)

// journeyNamespace derives stable ids for seeds that do not name one, so
// restarting with the same file updates journeys instead of piling them up.
var journeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pulse/journeys"))

type journeySeed struct {
	ID           string             `yaml:"id"`
	Scope        string             `yaml:"scope"`
	DesiredState model.JourneyState `yaml:"desired_state"`
	CurrentState model.JourneyState `yaml:"current_state"`
	Preferences  model.Preferences  `yaml:"preferences"`
	Active       *bool              `yaml:"active"`
}

type journeyFile struct {
	Journeys []journeySeed `yaml:"journeys"`
}

// JourneySaver persists seeded journeys.
type JourneySaver interface {
	SaveJourney(ctx context.Context, j model.Journey) (model.Journey, error)
}

// LoadJourneys decodes a journey seed document. Seeds are active unless
// they say otherwise.
func LoadJourneys(r io.Reader) ([]model.Journey, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f journeyFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrJourneySeed, err)
	}

	out := make([]model.Journey, 0, len(f.Journeys))
	for i, s := range f.Journeys {
		scope := strings.TrimSpace(s.Scope)
		if scope == "" {
			return nil, fmt.Errorf("%w: journey %d has no scope", ErrJourneySeed, i)
		}
		id := s.ID
		if id == "" {
			id = uuid.NewSHA1(journeyNamespace, []byte(scope)).String()
		}
		out = append(out, model.Journey{
			ID:           id,
			Scope:        scope,
			DesiredState: s.DesiredState,
			CurrentState: s.CurrentState,
			Preferences:  s.Preferences,
			IsActive:     s.Active == nil || *s.Active,
		})
	}
	return out, nil
}

// SeedJourneys loads path and saves every journey in file order.
func SeedJourneys(ctx context.Context, store JourneySaver, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrJourneySeed, err)
	}
	defer f.Close()

	journeys, err := LoadJourneys(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	for _, j := range journeys {
		if _, err := store.SaveJourney(ctx, j); err != nil {
			return 0, fmt.Errorf("seed journey %q: %w", j.Scope, err)
		}
	}
	return len(journeys), nil
}
