// Package system provides a real clock implementation.
package system

import "time"

// Clock reports wall time using time.Now. Components declare their own
// narrow Clock interfaces; this type satisfies all of them.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
