// Package clock abstracts time so expiry and polling can be tested
package clock

import "time"

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// System is the wall clock, in UTC
type System struct{}

// Now returns the current UTC time
func (System) Now() time.Time { return time.Now().UTC() }

// Func adapts a function to Clock
type Func func() time.Time

// Now calls f
func (f Func) Now() time.Time { return f() }
