package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/focusroom/internal/models"
	"github.com/mcdev12/focusroom/internal/timeutil"
)

// Encode converts a typed document into a Doc via its JSON form, so every
// backend persists the same shape the wire carries.
func Encode(v any) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// DecodeSession converts a session Doc back into its model. Timestamp
// fields go through timeutil.Canonicalize and decode to zero times when
// unparsable rather than failing.
func DecodeSession(doc Doc) models.Session {
	s := models.Session{
		ID:               str(doc["id"]),
		HostID:           str(doc["hostId"]),
		WorkMinutes:      num(doc["workMinutes"]),
		BreakMinutes:     num(doc["breakMinutes"]),
		Rounds:           num(doc["rounds"]),
		LongBreakMinutes: num(doc["longBreakMinutes"]),
	}
	s.CreatedAt, _ = timeutil.Canonicalize(doc["createdAt"])
	if state, ok := doc["state"].(map[string]any); ok {
		s.State = decodeState(state)
	}
	return s
}

func decodeState(state map[string]any) models.SessionState {
	st := models.SessionState{
		IsRunning:     boolean(state["isRunning"]),
		CurrentPhase:  models.Phase(str(state["currentPhase"])),
		TimeRemaining: num(state["timeRemaining"]),
		Round:         num(state["round"]),
	}
	st.StartedAt, _ = timeutil.Canonicalize(state["startedAt"])
	if !st.CurrentPhase.Valid() {
		st.CurrentPhase = models.PhaseWork
	}
	if st.TimeRemaining < 0 {
		st.TimeRemaining = 0
	}
	if st.Round < 1 {
		st.Round = 1
	}
	return st
}

// DecodeParticipant converts a participant Doc back into its model.
func DecodeParticipant(doc Doc) models.Participant {
	p := models.Participant{
		ID:          str(doc["id"]),
		Username:    str(doc["username"]),
		Avatar:      str(doc["avatar"]),
		CurrentTask: str(doc["currentTask"]),
		Removed:     boolean(doc["removed"]),
	}
	p.JoinedAt, _ = timeutil.Canonicalize(doc["joinedAt"])
	p.LastSeen, _ = timeutil.Canonicalize(doc["lastSeen"])
	p.RemovedAt, _ = timeutil.Canonicalize(doc["removedAt"])
	return p
}

// DecodeMessage converts a message Doc back into its model.
func DecodeMessage(doc Doc) models.Message {
	m := models.Message{
		ID:         str(doc["id"]),
		SenderID:   str(doc["senderId"]),
		SenderName: str(doc["senderName"]),
		Text:       str(doc["text"]),
	}
	m.Timestamp, _ = timeutil.Canonicalize(doc["timestamp"])
	return m
}

// StateFields builds the merge payload for a timer-state write. Every
// state write carries the full state object so field-level merge at the
// store keeps it internally consistent.
func StateFields(st models.SessionState) Doc {
	var startedAt any
	if !st.StartedAt.IsZero() {
		startedAt = st.StartedAt.Format(time.RFC3339Nano)
	}
	return Doc{
		"state": map[string]any{
			"isRunning":     st.IsRunning,
			"currentPhase":  string(st.CurrentPhase),
			"timeRemaining": st.TimeRemaining,
			"round":         st.Round,
			"startedAt":     startedAt,
		},
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
