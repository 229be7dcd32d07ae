package models

import "time"

// NetworkIdentity is the current outbound address as seen by the target.
// Ephemeral: cached briefly, logged on rotation, never a row of its own.
type NetworkIdentity struct {
	IP        string
	Country   string
	CheckedAt time.Time
}

// Fresh reports whether the identity was confirmed within the window.
func (n NetworkIdentity) Fresh(window time.Duration) bool {
	return n.IP != "" && time.Since(n.CheckedAt) < window
}

// RotationEvent records one identity rotation for auditing.
type RotationEvent struct {
	ID        int64
	OldIP     string
	NewIP     string
	Country   string
	Reason    string
	Success   bool
	Error     string
	RotatedAt time.Time
}
