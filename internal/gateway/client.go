package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/chat"
	"github.com/mcdev12/focusroom/internal/session"
)

// client is one websocket connection with its own session coordinator and
// chat stream. State pushes ride the send channel; a slow consumer drops
// intermediate snapshots rather than blocking the core.
type client struct {
	handler *Handler
	conn    *websocket.Conn
	send    chan []byte

	coord  *session.Coordinator
	stream *chat.Stream

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newClient(h *Handler, conn *websocket.Conn, identity session.Identity) *client {
	cl := &client{
		handler: h,
		conn:    conn,
		send:    make(chan []byte, 64),
	}
	cl.coord = session.New(h.store, h.clock, identity)
	cl.stream = chat.New(h.store, h.clock, cl.coord)
	cl.coord.SetNotify(cl.pushRoomState)
	cl.stream.SetNotify(cl.pushChat)
	return cl
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.handler.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Msg("gateway write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(c.handler.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.handler.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.handler.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}
		c.handleCommand(message)
		c.conn.SetReadDeadline(time.Now().Add(c.handler.config.ReadTimeout))
	}
}

func (c *client) handleCommand(raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		c.sendError("malformed command")
		return
	}

	ctx := context.Background()
	switch cmd.Type {
	case CmdCreateSession:
		var p CreateSessionPayload
		if len(cmd.Payload) > 0 {
			if err := json.Unmarshal(cmd.Payload, &p); err != nil {
				c.sendError("malformed create_session payload")
				return
			}
		}
		code, err := c.coord.CreateSession(ctx, session.Config{
			WorkMinutes:      p.WorkMinutes,
			BreakMinutes:     p.BreakMinutes,
			Rounds:           p.Rounds,
			LongBreakMinutes: p.LongBreakMinutes,
		})
		if err != nil {
			c.sendError(err.Error())
			return
		}
		c.startChat(ctx)
		c.sendEvent(Event{Type: EventSessionCreated, Payload: SessionCreatedPayload{Code: code}})

	case CmdJoinSession:
		var p JoinSessionPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			c.sendError("malformed join_session payload")
			return
		}
		found, err := c.coord.JoinSession(ctx, p.Code)
		if err != nil {
			c.sendError(err.Error())
			return
		}
		if found {
			c.startChat(ctx)
		}
		c.sendEvent(Event{Type: EventJoinResult, Payload: JoinResultPayload{Code: p.Code, Found: found}})

	case CmdLeaveSession:
		c.stream.Stop()
		if err := c.coord.LeaveSession(ctx); err != nil {
			c.sendError(err.Error())
		}

	case CmdStartTimer:
		if err := c.coord.StartTimer(ctx); err != nil {
			c.sendError(err.Error())
		}
	case CmdPauseTimer:
		if err := c.coord.PauseTimer(ctx); err != nil {
			c.sendError(err.Error())
		}
	case CmdSkipPhase:
		if err := c.coord.SkipPhase(ctx); err != nil {
			c.sendError(err.Error())
		}

	case CmdSendMessage:
		var p TextPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			c.sendError("malformed send_message payload")
			return
		}
		if err := c.stream.SendMessage(ctx, p.Text); err != nil {
			c.sendError(err.Error())
		}

	case CmdSetTask:
		var p TextPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			c.sendError("malformed set_task payload")
			return
		}
		if err := c.coord.SetCurrentTask(ctx, p.Text); err != nil {
			c.sendError(err.Error())
		}

	case CmdKick:
		var p KickPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			c.sendError("malformed kick payload")
			return
		}
		if err := c.coord.KickParticipant(ctx, p.ParticipantID); err != nil {
			c.sendError(err.Error())
		}

	default:
		log.Warn().Str("type", string(cmd.Type)).Msg("unknown gateway command")
		c.sendError("unknown command")
	}
}

func (c *client) startChat(ctx context.Context) {
	if err := c.stream.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start chat stream")
	}
}

func (c *client) pushRoomState() {
	timer := c.coord.Timer()
	c.sendEvent(Event{Type: EventRoomState, Payload: RoomStatePayload{
		Code:          c.coord.Code(),
		InSession:     c.coord.InSession(),
		IsHost:        c.coord.IsHost(),
		ParticipantID: c.coord.ParticipantID(),
		Timer: TimerPayload{
			IsRunning:     timer.IsRunning,
			CurrentPhase:  timer.Phase,
			TimeRemaining: timer.TimeRemaining,
			Round:         timer.Round,
		},
		Participants: c.coord.Participants(),
	}})
}

func (c *client) pushChat() {
	groups := c.stream.Groups()
	payload := ChatPayload{Groups: make([]ChatGroupPayload, 0, len(groups))}
	for _, g := range groups {
		payload.Groups = append(payload.Groups, ChatGroupPayload{
			SenderID:   g.SenderID,
			SenderName: g.SenderName,
			Messages:   g.Messages,
		})
	}
	c.sendEvent(Event{Type: EventChat, Payload: payload})
}

func (c *client) sendError(msg string) {
	c.sendEvent(Event{Type: EventError, Payload: ErrorPayload{Message: msg}})
}

// sendEvent queues an event for the write pump. Sends are gated on the
// closed flag under the mutex so a late notify from a torn-down coordinator
// or stream cannot race the channel close.
func (c *client) sendEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to marshal gateway event")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("type", string(ev.Type)).Msg("gateway send buffer full, dropping event")
	}
}

// close tears down the connection's session lifecycle. The remote roster
// row is left for the liveness scan, matching an app that vanished
// mid-session.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.handler.unregister(c)
		c.stream.Stop()
		c.coord.Stop()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
		c.conn.Close()
		log.Info().Msg("gateway connection closed")
	})
}
