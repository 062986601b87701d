package domain

import "time"

// TransitionRecord one accepted state change.
type TransitionRecord struct {
	Timestamp time.Time   `json:"ts"`
	From      MarketState `json:"from"`
	To        MarketState `json:"to"`
	Reason    string      `json:"reason"`
	Strength  int         `json:"strength"`
}

// IsChange reports whether the record actually moved the state.
func (r TransitionRecord) IsChange() bool {
	return r.From != r.To
}

// Lock mutual-exclusion record guarding state-mutating operations.
// A missing record means unlocked.
type Lock struct {
	HeldSince time.Time `json:"held_since"`
	OwnerID   string    `json:"owner_id"`
}

// Expired reports whether the lock is older than timeout at now.
func (l Lock) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(l.HeldSince) >= timeout
}
