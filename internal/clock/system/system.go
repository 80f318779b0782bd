// Package system provides a real clock implementation.
package system

import "time"

// Clock implements crawler.Clock using time.Now. Timestamps are UTC and
// truncated to milliseconds so run reports and snapshots round-trip through
// JSON and Postgres unchanged.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
