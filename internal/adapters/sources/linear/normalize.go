package linear

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/pulse/internal/domain/model"
)

// ErrMalformed marks an issue node the mapping cannot read.
var ErrMalformed = errors.New("linear: malformed issue")

type rawIssue struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Priority   float64   `json:"priority"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	State      *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"state"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	Assignee *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Team *struct {
		Key string `json:"key"`
	} `json:"team"`
}

// Normalize maps one Linear issue node to canonical events:
//
//	ticket.created  at createdAt
//	ticket.updated  at updatedAt, when it differs from createdAt
//	ticket.moved    at updatedAt, when it differs and a state is present
//	ticket.blocked  at updatedAt, when the state or a label says blocked
//
// Every event carries the same model.TrackerMeta envelope.
func Normalize(raw json.RawMessage) ([]model.Event, error) {
	var is rawIssue
	if err := json.Unmarshal(raw, &is); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ref := is.Identifier
	if ref == "" {
		ref = is.ID
	}
	if ref == "" || is.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing identifier or createdAt", ErrMalformed)
	}
	updated := is.UpdatedAt
	if updated.IsZero() {
		updated = is.CreatedAt
	}

	meta := model.TrackerMeta{
		Identifier: ref,
		Priority:   int(is.Priority),
		CreatedAt:  is.CreatedAt.UTC(),
		UpdatedAt:  updated.UTC(),
		Raw:        raw,
	}
	if is.State != nil {
		meta.State = model.TicketState{ID: is.State.ID, Name: is.State.Name, Type: is.State.Type}
	}
	for _, l := range is.Labels.Nodes {
		meta.Labels = append(meta.Labels, l.Name)
	}
	if is.Assignee != nil {
		meta.Assignee = is.Assignee.Name
	}
	if is.Team != nil {
		meta.Team = is.Team.Key
	}
	meta.Blocked = blocked(meta)

	blob, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("linear: encode meta: %w", err)
	}
	event := func(typ string, ts time.Time) model.Event {
		return model.NewEvent(model.Event{
			TS:     ts,
			Source: model.SourceTracker,
			Actor:  meta.Assignee,
			Type:   typ,
			RefID:  ref,
			Title:  is.Title,
			URL:    is.URL,
			Meta:   blob,
		})
	}

	out := []model.Event{event(model.TypeTicketCreated, is.CreatedAt)}
	if !updated.Equal(is.CreatedAt) {
		out = append(out, event(model.TypeTicketUpdated, updated))
		if meta.State.Name != "" {
			out = append(out, event(model.TypeTicketMoved, updated))
		}
	}
	if meta.Blocked {
		out = append(out, event(model.TypeTicketBlocked, updated))
	}
	return out, nil
}

func blocked(m model.TrackerMeta) bool {
	if strings.Contains(strings.ToLower(m.State.Name), "blocked") {
		return true
	}
	for _, l := range m.Labels {
		if strings.Contains(strings.ToLower(l), "blocked") {
			return true
		}
	}
	return false
}
