package models

import (
	"time"
)

// ActivityType defines the kind of an activity-log entry.
type ActivityType string

const (
	ActivityParticipantLeft    ActivityType = "participant_left"
	ActivityParticipantRemoved ActivityType = "participant_removed"
	ActivityParticipantKicked  ActivityType = "participant_kicked"
)

// ActivityEntry is a best-effort audit record in a session's activity
// sub-collection. Entries are reaped together with their session.
type ActivityEntry struct {
	ID            string       `json:"id"`
	Type          ActivityType `json:"type"`
	ParticipantID string       `json:"participantId"`
	Username      string       `json:"username"`
	Reason        string       `json:"reason,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}
