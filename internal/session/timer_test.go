package session

import (
	"testing"
	"time"

	"github.com/mcdev12/focusroom/internal/models"
)

func testSession() models.Session {
	return models.Session{
		ID:               "ABC",
		HostID:           "host1234",
		WorkMinutes:      25,
		BreakMinutes:     5,
		Rounds:           4,
		LongBreakMinutes: 15,
	}
}

func TestNextState(t *testing.T) {
	sess := testSession()

	tests := []struct {
		name      string
		phase     models.Phase
		round     int
		wantPhase models.Phase
		wantRound int
		wantSecs  int
	}{
		{"work mid-cycle goes to break", models.PhaseWork, 2, models.PhaseBreak, 2, 300},
		{"work on final round goes to long break", models.PhaseWork, 4, models.PhaseLongBreak, 4, 900},
		{"break advances the round", models.PhaseBreak, 2, models.PhaseWork, 3, 1500},
		{"long break resets to round one", models.PhaseLongBreak, 4, models.PhaseWork, 1, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := nextState(sess, tt.phase, tt.round)
			if next.CurrentPhase != tt.wantPhase {
				t.Errorf("phase = %q, want %q", next.CurrentPhase, tt.wantPhase)
			}
			if next.Round != tt.wantRound {
				t.Errorf("round = %d, want %d", next.Round, tt.wantRound)
			}
			if next.TimeRemaining != tt.wantSecs {
				t.Errorf("timeRemaining = %d, want %d", next.TimeRemaining, tt.wantSecs)
			}
			if next.IsRunning {
				t.Error("transition should leave the timer paused")
			}
			if !next.StartedAt.IsZero() {
				t.Error("transition should clear startedAt")
			}
		})
	}
}

func TestDisplayedState(t *testing.T) {
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	sess := testSession()

	tests := []struct {
		name    string
		state   models.SessionState
		now     time.Time
		want    int
		running bool
	}{
		{
			name:  "paused state is shown as written",
			state: models.SessionState{CurrentPhase: models.PhaseWork, TimeRemaining: 1500, Round: 1},
			now:   start.Add(10 * time.Minute),
			want:  1500,
		},
		{
			name: "running state subtracts elapsed time",
			state: models.SessionState{
				IsRunning: true, CurrentPhase: models.PhaseWork,
				TimeRemaining: 1500, Round: 1, StartedAt: start,
			},
			now:     start.Add(90 * time.Second),
			want:    1410,
			running: true,
		},
		{
			name: "elapsed past zero floors at zero",
			state: models.SessionState{
				IsRunning: true, CurrentPhase: models.PhaseBreak,
				TimeRemaining: 300, Round: 2, StartedAt: start,
			},
			now:     start.Add(time.Hour),
			want:    0,
			running: true,
		},
		{
			name: "clock skew before startedAt shows the full value",
			state: models.SessionState{
				IsRunning: true, CurrentPhase: models.PhaseWork,
				TimeRemaining: 1500, Round: 1, StartedAt: start,
			},
			now:     start.Add(-30 * time.Second),
			want:    1500,
			running: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess.State = tt.state
			got := displayedState(sess, tt.now)
			if got.TimeRemaining != tt.want {
				t.Errorf("timeRemaining = %d, want %d", got.TimeRemaining, tt.want)
			}
			if got.IsRunning != tt.running {
				t.Errorf("isRunning = %v, want %v", got.IsRunning, tt.running)
			}
			if got.Phase != tt.state.CurrentPhase {
				t.Errorf("phase = %q, want %q", got.Phase, tt.state.CurrentPhase)
			}
			if got.Round != tt.state.Round {
				t.Errorf("round = %d, want %d", got.Round, tt.state.Round)
			}
		})
	}
}
