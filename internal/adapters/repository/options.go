package repository

import "time"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithBusyTimeout sets the SQLite busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option {
	return func(s *Store) {
		if ms > 0 {
			s.busyTimeout = ms
		}
	}
}

// WithMaxOpenConns bounds the connection pool; in-memory databases always use one.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithClock sets the time source used for bookkeeping columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}
