// Package system provides a real clock implementation.
package system

import "time"

// Clock yields wall-clock time in UTC. It satisfies the narrow clock
// interfaces declared by consuming packages.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
