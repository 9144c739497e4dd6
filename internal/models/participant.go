package models

import (
	"time"
)

// Participant is a member of a session's roster sub-collection. Absence
// from the collection means "not in session"; Removed/RemovedAt are
// transitional metadata cleared on rejoin, not the removal mechanism.
type Participant struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar"`
	CurrentTask string    `json:"currentTask"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeen    time.Time `json:"lastSeen"`
	Removed     bool      `json:"removed,omitempty"`
	RemovedAt   time.Time `json:"removedAt,omitzero"`
}
