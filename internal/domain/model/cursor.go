package model

import "time"

// Cursor is the persisted ingestion position of one source target.
// Value is opaque outside the owning source.
type Cursor struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
