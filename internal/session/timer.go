package session

import (
	"time"

	"github.com/mcdev12/focusroom/internal/models"
)

// TimerState is the locally displayed countdown, derived from the shared
// session state. It is display smoothing only; the shared state written by
// the host is authoritative.
type TimerState struct {
	IsRunning     bool
	Phase         models.Phase
	TimeRemaining int
	Round         int
}

// displayedState derives the countdown a client should show at now from a
// session snapshot. While the timer runs, wall-clock time since startedAt
// is subtracted so clients that subscribed late converge on the same
// value, floored at zero.
func displayedState(s models.Session, now time.Time) TimerState {
	st := s.State
	remaining := st.TimeRemaining
	if st.IsRunning && !st.StartedAt.IsZero() {
		elapsed := int(now.Sub(st.StartedAt) / time.Second)
		if elapsed > 0 {
			remaining -= elapsed
		}
		if remaining < 0 {
			remaining = 0
		}
	}
	return TimerState{
		IsRunning:     st.IsRunning,
		Phase:         st.CurrentPhase,
		TimeRemaining: remaining,
		Round:         st.Round,
	}
}

// nextState computes the phase transition from (phase, round):
//
//	work, round == rounds → longBreak, round unchanged
//	work, round <  rounds → break, round unchanged
//	break                 → work, round+1
//	longBreak             → work, round reset to 1
//
// Every transition pauses the timer and clears startedAt.
func nextState(s models.Session, phase models.Phase, round int) models.SessionState {
	next := models.SessionState{IsRunning: false, Round: round}
	switch phase {
	case models.PhaseWork:
		if round == s.Rounds {
			next.CurrentPhase = models.PhaseLongBreak
		} else {
			next.CurrentPhase = models.PhaseBreak
		}
	case models.PhaseBreak:
		next.CurrentPhase = models.PhaseWork
		next.Round = round + 1
	default:
		next.CurrentPhase = models.PhaseWork
		next.Round = 1
	}
	next.TimeRemaining = s.PhaseDuration(next.CurrentPhase)
	return next
}
