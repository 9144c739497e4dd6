package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/focusroom/internal/store"
	"github.com/mcdev12/focusroom/internal/store/memstore"
	"github.com/mcdev12/focusroom/internal/timeutil"
)

func seedSession(t *testing.T, st store.Store, code string, lastSeens ...time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := st.SetSession(ctx, code, store.Doc{"id": code, "hostId": "h1"}); err != nil {
		t.Fatal(err)
	}
	for i, seen := range lastSeens {
		id := string(rune('a' + i))
		doc := store.Doc{"id": id, "username": "user-" + id, "lastSeen": timeutil.Stamp(seen)}
		if err := st.PutChild(ctx, code, store.CollParticipants, id, doc); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSweepOnceDeletesEmptySession(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))

	seedSession(t, st, "EMP")

	r := New(st, clock, nil)
	reaped, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	if _, err := st.GetSession(ctx, "EMP"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("session still present: %v", err)
	}
}

func TestSweepOnceDeletesStaleSessionAndChildren(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(now)

	seedSession(t, st, "OLD", now.Add(-time.Hour), now.Add(-20*time.Minute))
	st.PutChild(ctx, "OLD", store.CollMessages, "m1", store.Doc{"id": "m1", "text": "hi"})
	st.PutChild(ctx, "OLD", store.CollActivity, "a1", store.Doc{"id": "a1"})

	r := New(st, clock, nil)
	reaped, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}

	if _, err := st.GetSession(ctx, "OLD"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("session document survived the sweep")
	}
	for _, coll := range reapedCollections {
		docs, _ := st.ListChildren(ctx, "OLD", coll)
		if len(docs) != 0 {
			t.Fatalf("%s collection survived the sweep: %v", coll, docs)
		}
	}
}

func TestSweepOnceDeletesMergeCreatedRows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(now)

	// A merge-created row stores no id field; the sweep must still delete
	// it by its store key.
	st.SetSession(ctx, "GHO", store.Doc{"id": "GHO"})
	if err := st.MergeChild(ctx, "GHO", store.CollParticipants, "p1",
		store.Doc{"lastSeen": timeutil.Stamp(now.Add(-time.Hour))}); err != nil {
		t.Fatal(err)
	}

	r := New(st, clock, nil)
	reaped, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
	docs, _ := st.ListChildren(ctx, "GHO", store.CollParticipants)
	if len(docs) != 0 {
		t.Fatalf("orphan row survived the sweep: %v", docs)
	}
}

func TestSweepOnceKeepsActiveSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(now)

	// One stale participant, one fresh: the freshest lastSeen wins.
	seedSession(t, st, "LIV", now.Add(-time.Hour), now.Add(-time.Minute))

	r := New(st, clock, nil)
	reaped, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 0 {
		t.Fatalf("reaped = %d, want 0", reaped)
	}
	if _, err := st.GetSession(ctx, "LIV"); err != nil {
		t.Fatalf("active session was deleted: %v", err)
	}
}

func TestSweepOnceTreatsUnparsableTimestampsAsStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(now)

	st.SetSession(ctx, "BAD", store.Doc{"id": "BAD"})
	st.PutChild(ctx, "BAD", store.CollParticipants, "p1", store.Doc{"id": "p1", "lastSeen": "garbage"})

	r := New(st, clock, nil)
	reaped, err := r.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 1 {
		t.Fatalf("reaped = %d, want 1", reaped)
	}
}

func TestSweepSkipsWhenGateReportsIdle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	st := memstore.New()
	clock := clockwork.NewFakeClockAt(now)

	seedSession(t, st, "EMP")

	r := New(st, clock, func() bool { return false })
	r.Start(ctx)
	clock.BlockUntil(1)
	clock.Advance(SweepInterval + time.Second)
	r.Stop()

	if _, err := st.GetSession(ctx, "EMP"); err != nil {
		t.Fatalf("gated sweep still deleted the session: %v", err)
	}
}
