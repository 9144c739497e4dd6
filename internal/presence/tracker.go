// Package presence keeps the participant roster honest: each client
// heartbeats its own row, and the host evicts rows that stop beating.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/models"
	"github.com/mcdev12/focusroom/internal/store"
	"github.com/mcdev12/focusroom/internal/timeutil"
)

const (
	// HeartbeatInterval is how often a client refreshes its own lastSeen.
	HeartbeatInterval = 30 * time.Second
	// ScanInterval is how often the host looks for dead participants.
	ScanInterval = 60 * time.Second
	// InactivityLimit is the lastSeen age past which a participant is
	// considered gone.
	InactivityLimit = 60 * time.Second
)

// Session is the tracker's view of the client's current session identity.
type Session interface {
	Code() string
	ParticipantID() string
	HostID() string
}

// Tracker runs the heartbeat and, on the host, the liveness scan. Both
// loops log failures and carry on; a missed beat or scan is recovered by
// the next tick.
type Tracker struct {
	store store.Store
	clock clockwork.Clock
	sess  Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker returns a tracker bound to one session's identity.
func NewTracker(st store.Store, clock clockwork.Clock, sess Session) *Tracker {
	return &Tracker{store: st, clock: clock, sess: sess}
}

// Start beats immediately, then launches the heartbeat and scan loops.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.Heartbeat(ctx)

	t.wg.Add(2)
	go t.heartbeatLoop(ctx)
	go t.scanLoop(ctx)
}

// Stop cancels both loops and waits for them to exit. Idempotent.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.cancel = nil
}

func (t *Tracker) heartbeatLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := t.clock.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Heartbeat(ctx)
		}
	}
}

func (t *Tracker) scanLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := t.clock.NewTicker(ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			// Only the host evicts.
			if t.sess.ParticipantID() != t.sess.HostID() {
				continue
			}
			t.Scan(ctx)
		}
	}
}

// Heartbeat merges a fresh lastSeen into the caller's participant row.
func (t *Tracker) Heartbeat(ctx context.Context) {
	code, id := t.sess.Code(), t.sess.ParticipantID()
	if code == "" || id == "" {
		return
	}
	fields := store.Doc{"lastSeen": timeutil.Stamp(t.clock.Now())}
	if err := t.store.MergeChild(ctx, code, store.CollParticipants, id, fields); err != nil {
		log.Error().Err(err).Str("code", code).Str("participant_id", id).Msg("heartbeat write failed")
	}
}

// Scan fetches a fresh roster read and evicts every non-host participant
// whose lastSeen is older than InactivityLimit or unparsable. The host row
// is never evicted here.
func (t *Tracker) Scan(ctx context.Context) {
	code := t.sess.Code()
	if code == "" {
		return
	}
	docs, err := t.store.ListChildren(ctx, code, store.CollParticipants)
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("liveness scan read failed")
		return
	}

	now := t.clock.Now()
	hostID := t.sess.HostID()
	evicted := 0
	for _, doc := range docs {
		p := store.DecodeParticipant(doc)
		if p.ID == "" || p.ID == hostID {
			continue
		}
		lastSeen, ok := timeutil.Canonicalize(doc["lastSeen"])
		if ok && now.Sub(lastSeen) <= InactivityLimit {
			continue
		}
		t.evict(ctx, code, p, now)
		evicted++
	}
	if evicted > 0 {
		log.Info().Str("code", code).Int("evicted", evicted).Int("total", len(docs)).Msg("liveness scan removed inactive participants")
	}
}

func (t *Tracker) evict(ctx context.Context, code string, p models.Participant, now time.Time) {
	if err := t.store.DeleteChild(ctx, code, store.CollParticipants, p.ID); err != nil {
		log.Error().Err(err).Str("code", code).Str("participant_id", p.ID).Msg("failed to evict participant")
		return
	}
	log.Info().
		Str("code", code).
		Str("participant_id", p.ID).
		Str("username", p.Username).
		Str("last_seen", timeutil.FormatAgo(now, p.LastSeen)).
		Msg("evicted inactive participant")

	entry := store.Doc{
		"id":            uuid.New().String()[:8],
		"type":          string(models.ActivityParticipantRemoved),
		"participantId": p.ID,
		"username":      p.Username,
		"reason":        "inactivity",
		"timestamp":     timeutil.Stamp(now),
	}
	if err := t.store.PutChild(ctx, code, store.CollActivity, entry["id"].(string), entry); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to log eviction")
	}
}
