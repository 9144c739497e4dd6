// Package chat carries the session chat stream: the latest page of
// messages in chronological order, burst grouping for display, and
// sending.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/models"
	"github.com/mcdev12/focusroom/internal/store"
)

const (
	// PageSize is how many of the newest messages are kept.
	PageSize = 50
	// GroupWindow is the maximum gap between consecutive messages from one
	// sender for them to render as a single group.
	GroupWindow = 5 * time.Minute
)

// Session is the stream's view of the client's session identity.
type Session interface {
	Code() string
	ParticipantID() string
	Username() string
}

// Group is a display run of consecutive messages from one sender.
// Timestamp tracks the most recently appended message, so a long burst
// chains as long as each message lands within GroupWindow of the previous
// one.
type Group struct {
	SenderID   string
	SenderName string
	Messages   []models.Message
	Timestamp  time.Time
}

// Stream subscribes to a session's messages and keeps the newest PageSize
// of them in chronological order.
type Stream struct {
	store store.Store
	clock clockwork.Clock
	sess  Session

	mu       sync.Mutex
	gen      int // lifecycle generation; stale watch callbacks are discarded
	messages []models.Message
	sub      store.Subscription
	notifyFn func()
}

// New returns a stream bound to one session identity.
func New(st store.Store, clock clockwork.Clock, sess Session) *Stream {
	return &Stream{store: st, clock: clock, sess: sess}
}

// SetNotify registers a hook invoked after the message list changes.
func (s *Stream) SetNotify(fn func()) {
	s.mu.Lock()
	s.notifyFn = fn
	s.mu.Unlock()
}

// Start subscribes to the session's message collection.
func (s *Stream) Start(ctx context.Context) error {
	code := s.sess.Code()
	if code == "" {
		return fmt.Errorf("chat: not in a session")
	}
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	sub, err := s.store.WatchChildren(ctx, code, store.CollMessages, func(docs []store.Doc) {
		s.apply(gen, docs)
	})
	if err != nil {
		return fmt.Errorf("failed to watch messages: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// Stop unsubscribes and clears the local message list. Idempotent. A watch
// callback already in flight when Stop runs is discarded by the generation
// check in apply.
func (s *Stream) Stop() {
	s.mu.Lock()
	s.gen++
	sub := s.sub
	s.sub = nil
	s.messages = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// apply reduces a collection snapshot to the newest PageSize messages in
// chronological order, mirroring a timestamp-descending limit query
// reversed locally. Snapshots from a generation that has since been
// stopped are dropped.
func (s *Stream) apply(gen int, docs []store.Doc) {
	msgs := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, store.DecodeMessage(d))
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})
	if len(msgs) > PageSize {
		msgs = msgs[:PageSize]
	}
	// newest-first page, reversed to chronological
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.messages = msgs
	fn := s.notifyFn
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Messages returns the current page in chronological order.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Groups returns the current page bucketed for display.
func (s *Stream) Groups() []Group {
	return GroupMessages(s.Messages())
}

// GroupMessages merges consecutive messages into groups: same sender and
// within GroupWindow of the group's most recent message. A sender switch
// or a longer gap starts a new group.
func GroupMessages(msgs []models.Message) []Group {
	var groups []Group
	for _, m := range msgs {
		if n := len(groups); n > 0 {
			last := &groups[n-1]
			if last.SenderID == m.SenderID && m.Timestamp.Sub(last.Timestamp) < GroupWindow {
				last.Messages = append(last.Messages, m)
				last.Timestamp = m.Timestamp
				continue
			}
		}
		groups = append(groups, Group{
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Messages:   []models.Message{m},
			Timestamp:  m.Timestamp,
		})
	}
	return groups
}

// SendMessage appends a message stamped with this client's wall clock.
// Blank input is a no-op. Client-stamped timestamps mean cross-device
// ordering is only as accurate as the devices' clocks.
func (s *Stream) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	code, pid := s.sess.Code(), s.sess.ParticipantID()
	if code == "" || pid == "" {
		return nil
	}

	msg := models.Message{
		ID:         uuid.New().String()[:8],
		SenderID:   pid,
		SenderName: s.sess.Username(),
		Text:       text,
		Timestamp:  s.clock.Now(),
	}
	doc, err := store.Encode(msg)
	if err != nil {
		return err
	}
	if err := s.store.PutChild(ctx, code, store.CollMessages, msg.ID, doc); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to send message")
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
