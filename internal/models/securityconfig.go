package models

import "time"

// SecurityConfig is the singleton row holding the global token version
// floor. Mutated only through compare-and-swap updates
type SecurityConfig struct {
	GlobalMinTokenVersion int64
	UpdatedAt             time.Time
	UpdatedBy             string
	LastRotationReason    string
}
