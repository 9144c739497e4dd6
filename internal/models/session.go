package models

import (
	"time"
)

// Phase defines the timer phase of a session.
type Phase string

const (
	PhaseWork      Phase = "work"
	PhaseBreak     Phase = "break"
	PhaseLongBreak Phase = "longBreak"
)

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWork, PhaseBreak, PhaseLongBreak:
		return true
	}
	return false
}

// SessionState is the shared timer state of a session. Only the host's
// client writes it; every client derives its displayed countdown from it.
type SessionState struct {
	IsRunning     bool      `json:"isRunning"`
	CurrentPhase  Phase     `json:"currentPhase"`
	TimeRemaining int       `json:"timeRemaining"` // seconds, never negative
	Round         int       `json:"round"`
	StartedAt     time.Time `json:"startedAt,omitzero"` // zero time means "not running"
}

// Session is the shared session document, keyed by its 3-letter code.
// HostID is fixed at creation and never reassigned.
type Session struct {
	ID               string       `json:"id"`
	CreatedAt        time.Time    `json:"createdAt"`
	HostID           string       `json:"hostId"`
	WorkMinutes      int          `json:"workMinutes"`
	BreakMinutes     int          `json:"breakMinutes"`
	Rounds           int          `json:"rounds"`
	LongBreakMinutes int          `json:"longBreakMinutes"`
	State            SessionState `json:"state"`
}

// PhaseDuration returns the configured duration, in seconds, for a phase.
func (s Session) PhaseDuration(p Phase) int {
	switch p {
	case PhaseBreak:
		return s.BreakMinutes * 60
	case PhaseLongBreak:
		return s.LongBreakMinutes * 60
	default:
		return s.WorkMinutes * 60
	}
}
