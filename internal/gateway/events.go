package gateway

import (
	"encoding/json"

	"github.com/mcdev12/focusroom/internal/models"
)

// Command is the envelope for client→server messages.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandType enumerates the verbs a UI client can send.
type CommandType string

const (
	CmdCreateSession CommandType = "create_session"
	CmdJoinSession   CommandType = "join_session"
	CmdLeaveSession  CommandType = "leave_session"
	CmdStartTimer    CommandType = "start_timer"
	CmdPauseTimer    CommandType = "pause_timer"
	CmdSkipPhase     CommandType = "skip_phase"
	CmdSendMessage   CommandType = "send_message"
	CmdSetTask       CommandType = "set_task"
	CmdKick          CommandType = "kick_participant"
)

// CreateSessionPayload configures a new session; zero fields use the
// 25/5/4/15 defaults.
type CreateSessionPayload struct {
	WorkMinutes      int `json:"workMinutes"`
	BreakMinutes     int `json:"breakMinutes"`
	Rounds           int `json:"rounds"`
	LongBreakMinutes int `json:"longBreakMinutes"`
}

// JoinSessionPayload names the session to join.
type JoinSessionPayload struct {
	Code string `json:"code"`
}

// TextPayload carries send_message and set_task bodies.
type TextPayload struct {
	Text string `json:"text"`
}

// KickPayload names the participant to remove.
type KickPayload struct {
	ParticipantID string `json:"participantId"`
}

// Event is the envelope for server→client messages.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// EventType enumerates server→client pushes.
type EventType string

const (
	EventRoomState      EventType = "room_state"
	EventChat           EventType = "chat"
	EventSessionCreated EventType = "session_created"
	EventJoinResult     EventType = "join_result"
	EventError          EventType = "error"
)

// TimerPayload is the displayed countdown state.
type TimerPayload struct {
	IsRunning     bool         `json:"isRunning"`
	CurrentPhase  models.Phase `json:"currentPhase"`
	TimeRemaining int          `json:"timeRemaining"`
	Round         int          `json:"round"`
}

// RoomStatePayload is the full room snapshot pushed after every change.
type RoomStatePayload struct {
	Code          string               `json:"code"`
	InSession     bool                 `json:"inSession"`
	IsHost        bool                 `json:"isHost"`
	ParticipantID string               `json:"participantId"`
	Timer         TimerPayload         `json:"timer"`
	Participants  []models.Participant `json:"participants"`
}

// ChatGroupPayload is one display run of messages from a single sender.
type ChatGroupPayload struct {
	SenderID   string           `json:"senderId"`
	SenderName string           `json:"senderName"`
	Messages   []models.Message `json:"messages"`
}

// ChatPayload is the grouped chat page.
type ChatPayload struct {
	Groups []ChatGroupPayload `json:"groups"`
}

// SessionCreatedPayload returns the freshly generated code.
type SessionCreatedPayload struct {
	Code string `json:"code"`
}

// JoinResultPayload reports whether the session existed.
type JoinResultPayload struct {
	Code  string `json:"code"`
	Found bool   `json:"found"`
}

// ErrorPayload carries an operation failure back to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
