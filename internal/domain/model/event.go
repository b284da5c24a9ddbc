// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Source identifies the upstream system an event came from.
type Source string

const (
	SourceVCS     Source = "vcs"
	SourceTracker Source = "tracker"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return s == SourceVCS || s == SourceTracker }

// Version-control event types.
const (
	TypePROpened        = "pull_request.opened"
	TypePRReopened      = "pull_request.reopened"
	TypePRMerged        = "pull_request.merged"
	TypePRClosed        = "pull_request.closed"
	TypeReviewSubmitted = "pull_request.review_submitted"
	TypePush            = "push"
	TypeRefCreated      = "ref.created"
	TypeRefDeleted      = "ref.deleted"
)

// Issue-tracker event types.
const (
	TypeTicketCreated = "ticket.created"
	TypeTicketUpdated = "ticket.updated"
	TypeTicketMoved   = "ticket.moved"
	TypeTicketBlocked = "ticket.blocked"
)

// Event is an immutable fact produced by a normalizer.
// The tuple (Source, RefID, Type, TS) is unique in the store.
type Event struct {
	ID     string          `json:"id"`
	TS     time.Time       `json:"ts"`
	Scope  string          `json:"scope,omitempty"`
	Source Source          `json:"source"`
	Actor  string          `json:"actor,omitempty"`
	Type   string          `json:"type"`
	RefID  string          `json:"ref_id"`
	Title  string          `json:"title,omitempty"`
	URL    string          `json:"url,omitempty"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

// NewEvent fills the derived ID and normalizes the timestamp to UTC.
func NewEvent(e Event) Event {
	e.TS = e.TS.UTC()
	e.ID = EventID(e.Source, e.RefID, e.Type, e.TS)
	return e
}

// EventID derives the deterministic identifier of the uniqueness tuple.
func EventID(source Source, refID, typ string, ts time.Time) string {
	buf := make([]byte, 0, len(source)+len(refID)+len(typ)+24)
	buf = append(buf, source...)
	buf = append(buf, 0)
	buf = append(buf, refID...)
	buf = append(buf, 0)
	buf = append(buf, typ...)
	buf = append(buf, 0)
	buf = strconv.AppendInt(buf, ts.UTC().UnixNano(), 10)
	return Digest(eventDomain, buf)
}

// IsPullRequest reports whether the type belongs to the pull request lifecycle.
func IsPullRequest(typ string) bool {
	switch typ {
	case TypePROpened, TypePRReopened, TypePRMerged, TypePRClosed, TypeReviewSubmitted:
		return true
	}
	return false
}

// IsTicket reports whether the type belongs to the ticket lifecycle.
func IsTicket(typ string) bool {
	switch typ {
	case TypeTicketCreated, TypeTicketUpdated, TypeTicketMoved, TypeTicketBlocked:
		return true
	}
	return false
}
