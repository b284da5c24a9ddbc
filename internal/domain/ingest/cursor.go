package ingest

import "time"

// Time cursors are RFC 3339 timestamps with nanoseconds in UTC. Both built-in
// sources use them; the runner never parses cursor values.

// FormatTimeCursor encodes t.
func FormatTimeCursor(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimeCursor decodes a cursor; empty or malformed values yield ok=false.
func ParseTimeCursor(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// MaxTimeCursor returns the later of the stored cursor and seen, so a
// backfill over an older range never moves a cursor backwards.
func MaxTimeCursor(stored string, seen time.Time) string {
	if prev, ok := ParseTimeCursor(stored); ok && !seen.After(prev) {
		return stored
	}
	if seen.IsZero() {
		return stored
	}
	return FormatTimeCursor(seen)
}

// LowerBound resolves where a time-cursor source resumes.
func LowerBound(req FetchRequest) time.Time {
	if !req.Since.IsZero() {
		return req.Since.UTC()
	}
	if t, ok := ParseTimeCursor(req.Cursor); ok {
		return t
	}
	return time.Time{}
}
