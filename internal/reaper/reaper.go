// Package reaper sweeps abandoned sessions out of the store. Every client
// carries the sweep and gates it on being inside a session, a coarse proxy
// for the app being in active use. Cleanup is best-effort: concurrent
// sweeps from different clients may race, and that is fine because every
// deletion is idempotent.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/store"
	"github.com/mcdev12/focusroom/internal/timeutil"
)

const (
	// SweepInterval is how often the sweep runs.
	SweepInterval = 5 * time.Minute
	// AbandonThreshold is how long a session may go without any
	// participant activity before it is deleted.
	AbandonThreshold = 10 * time.Minute
)

// reapedCollections are deleted child-first before the session document,
// since the store has no referential integrity or cascade delete.
var reapedCollections = []string{store.CollParticipants, store.CollActivity, store.CollMessages}

// Reaper periodically deletes sessions with no recent activity.
type Reaper struct {
	store  store.Store
	clock  clockwork.Clock
	active func() bool // sweep gate; nil means always run

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a reaper. active gates each sweep; pass the client's
// "currently in a session" check.
func New(st store.Store, clock clockwork.Clock, active func() bool) *Reaper {
	return &Reaper{store: st, clock: clock, active: active}
}

// Start launches the sweep loop.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop cancels the loop and waits for it. Idempotent.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := r.clock.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if r.active != nil && !r.active() {
				continue
			}
			if _, err := r.SweepOnce(ctx); err != nil {
				log.Error().Err(err).Msg("session sweep failed")
			}
		}
	}
}

// SweepOnce scans every session and deletes the abandoned ones: empty
// roster, or no participant seen within AbandonThreshold. Failures on one
// session do not stop the sweep. Returns how many sessions were reaped.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	codes, err := r.store.ListSessionCodes(ctx)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	reaped := 0
	for _, code := range codes {
		abandoned, err := r.isAbandoned(ctx, code, now)
		if err != nil {
			log.Error().Err(err).Str("code", code).Msg("failed to check session activity")
			continue
		}
		if !abandoned {
			continue
		}
		r.deleteSession(ctx, code)
		reaped++
	}
	if reaped > 0 {
		log.Info().Int("reaped", reaped).Int("scanned", len(codes)).Msg("session sweep complete")
	}
	return reaped, nil
}

func (r *Reaper) isAbandoned(ctx context.Context, code string, now time.Time) (bool, error) {
	docs, err := r.store.ListChildren(ctx, code, store.CollParticipants)
	if err != nil {
		return false, err
	}
	if len(docs) == 0 {
		return true, nil
	}

	var newest time.Time
	for _, doc := range docs {
		if lastSeen, ok := timeutil.Canonicalize(doc["lastSeen"]); ok && lastSeen.After(newest) {
			newest = lastSeen
		}
	}
	return now.Sub(newest) > AbandonThreshold, nil
}

// deleteSession removes children before the parent. Deletions within a
// collection run concurrently; failures are logged and do not abort the
// rest of the cascade.
func (r *Reaper) deleteSession(ctx context.Context, code string) {
	for _, coll := range reapedCollections {
		docs, err := r.store.ListChildren(ctx, code, coll)
		if err != nil {
			log.Error().Err(err).Str("code", code).Str("coll", coll).Msg("failed to list children for cleanup")
			continue
		}
		var wg sync.WaitGroup
		for _, doc := range docs {
			id, _ := doc["id"].(string)
			if id == "" {
				continue
			}
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if err := r.store.DeleteChild(ctx, code, coll, id); err != nil {
					log.Error().Err(err).Str("code", code).Str("coll", coll).Str("id", id).Msg("failed to delete child document")
				}
			}(id)
		}
		wg.Wait()
	}

	if err := r.store.DeleteSession(ctx, code); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to delete session document")
		return
	}
	log.Info().Str("code", code).Msg("deleted abandoned session")
}
