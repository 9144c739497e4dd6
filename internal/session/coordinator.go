// Package session owns the shared pomodoro session: create/join/leave,
// the host-gated timer state machine, and the lifecycle of every interval
// task and store subscription a client holds while in a session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/internal/models"
	"github.com/mcdev12/focusroom/internal/presence"
	"github.com/mcdev12/focusroom/internal/store"
	"github.com/mcdev12/focusroom/internal/timeutil"
)

// TickInterval is the local display countdown cadence.
const TickInterval = time.Second

// codeAttempts bounds the collision retry at session creation. A
// create/create race inside one attempt window can still collide; the
// store resolves that last-write-wins.
const codeAttempts = 5

// ErrInSession is returned when creating or joining while already in a
// session.
var ErrInSession = errors.New("session: already in a session")

// Config is the timer configuration of a new session. Zero fields fall
// back to the 25/5/4/15 defaults.
type Config struct {
	WorkMinutes      int
	BreakMinutes     int
	Rounds           int
	LongBreakMinutes int
}

// DefaultConfig returns the classic pomodoro configuration.
func DefaultConfig() Config {
	return Config{WorkMinutes: 25, BreakMinutes: 5, Rounds: 4, LongBreakMinutes: 15}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WorkMinutes <= 0 {
		c.WorkMinutes = def.WorkMinutes
	}
	if c.BreakMinutes <= 0 {
		c.BreakMinutes = def.BreakMinutes
	}
	if c.Rounds <= 0 {
		c.Rounds = def.Rounds
	}
	if c.LongBreakMinutes <= 0 {
		c.LongBreakMinutes = def.LongBreakMinutes
	}
	return c
}

// Identity is the (username, avatar) pair a client presents. Rejoining
// with the same pair reuses the existing participant row.
type Identity struct {
	Username string
	Avatar   string
}

// Coordinator is the session-scoped controller for one client. All
// interval tasks (display tick, heartbeat, liveness scan) and store
// subscriptions are owned here and torn down together, so leave, kick and
// app shutdown are a single deterministic stop.
//
// Host checks are client-side only: the store enforces nothing, so the
// host gate on timer mutations is advisory, not a security boundary.
type Coordinator struct {
	store    store.Store
	clock    clockwork.Clock
	identity Identity

	mu            sync.Mutex
	gen           int // lifecycle generation; stale watch callbacks are discarded
	code          string
	session       models.Session
	timer         TimerState
	participants  []models.Participant
	participantID string
	cachedID      string // survives eviction so a rejoin can reuse it
	currentTask   string
	// transitionPending guards against the tick loop issuing duplicate
	// phase-completion writes before the snapshot comes back.
	transitionPending bool
	notifyFn          func()

	cancel  context.CancelFunc
	subs    []store.Subscription
	tracker *presence.Tracker
	wg      sync.WaitGroup
}

// New returns an idle coordinator for one client identity.
func New(st store.Store, clock clockwork.Clock, identity Identity) *Coordinator {
	return &Coordinator{
		store:    st,
		clock:    clock,
		identity: identity,
		timer:    idleTimer(),
	}
}

func idleTimer() TimerState {
	return TimerState{
		Phase:         models.PhaseWork,
		TimeRemaining: DefaultConfig().WorkMinutes * 60,
		Round:         1,
	}
}

// SetNotify registers a hook invoked after every local state change.
// Display layers use it to re-render; it must not block.
func (c *Coordinator) SetNotify(fn func()) {
	c.mu.Lock()
	c.notifyFn = fn
	c.mu.Unlock()
}

func (c *Coordinator) notify() {
	c.mu.Lock()
	fn := c.notifyFn
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// CreateSession creates a new session with the caller as host and joins
// it. The generated code is retried against existing sessions a bounded
// number of times before giving up.
func (c *Coordinator) CreateSession(ctx context.Context, cfg Config) (string, error) {
	if c.InSession() {
		return "", ErrInSession
	}
	cfg = cfg.withDefaults()

	code, err := c.pickCode(ctx)
	if err != nil {
		return "", err
	}

	now := c.clock.Now()
	pid := uuid.New().String()[:8]
	sess := models.Session{
		ID:               code,
		CreatedAt:        now,
		HostID:           pid,
		WorkMinutes:      cfg.WorkMinutes,
		BreakMinutes:     cfg.BreakMinutes,
		Rounds:           cfg.Rounds,
		LongBreakMinutes: cfg.LongBreakMinutes,
		State: models.SessionState{
			CurrentPhase:  models.PhaseWork,
			TimeRemaining: cfg.WorkMinutes * 60,
			Round:         1,
		},
	}

	doc, err := store.Encode(sess)
	if err != nil {
		return "", err
	}
	if err := c.store.SetSession(ctx, code, doc); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if err := c.writeParticipant(ctx, code, pid, now); err != nil {
		return "", err
	}

	c.enter(code, sess, pid, displayedState(sess, now))
	log.Info().Str("code", code).Str("participant_id", pid).Msg("session created")
	return code, nil
}

func (c *Coordinator) pickCode(ctx context.Context) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := GenerateCode()
		_, err := c.store.GetSession(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check session code: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate a free session code after %d attempts", codeAttempts)
}

// JoinSession joins an existing session by code. It returns (false, nil)
// when no such session exists. Joining with a (username, avatar) pair that
// already has a roster row reuses that row's id and clears its removed
// markers, so reconnects do not duplicate participants.
func (c *Coordinator) JoinSession(ctx context.Context, code string) (bool, error) {
	if c.InSession() {
		return false, ErrInSession
	}

	doc, err := c.store.GetSession(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up session: %w", err)
	}
	sess := store.DecodeSession(doc)

	docs, err := c.store.ListChildren(ctx, code, store.CollParticipants)
	if err != nil {
		return false, fmt.Errorf("failed to read participants: %w", err)
	}

	now := c.clock.Now()
	var pid string
	for _, d := range docs {
		p := store.DecodeParticipant(d)
		if p.Username == c.identity.Username && p.Avatar == c.identity.Avatar {
			pid = p.ID
			break
		}
	}

	if pid != "" {
		log.Info().Str("code", code).Str("participant_id", pid).Str("username", c.identity.Username).Msg("reconnecting with existing participant id")
		fields := store.Doc{
			"lastSeen":  timeutil.Stamp(now),
			"removed":   false,
			"removedAt": nil,
		}
		if err := c.store.MergeChild(ctx, code, store.CollParticipants, pid, fields); err != nil {
			return false, fmt.Errorf("failed to refresh participant: %w", err)
		}
	} else {
		c.mu.Lock()
		pid = c.cachedID
		c.mu.Unlock()
		if pid == "" {
			pid = uuid.New().String()[:8]
		}
		if err := c.writeParticipant(ctx, code, pid, now); err != nil {
			return false, err
		}
	}

	c.enter(code, sess, pid, displayedState(sess, now))
	log.Info().Str("code", code).Str("participant_id", pid).Msg("joined session")
	return true, nil
}

func (c *Coordinator) writeParticipant(ctx context.Context, code, pid string, now time.Time) error {
	doc, err := store.Encode(models.Participant{
		ID:       pid,
		Username: c.identity.Username,
		Avatar:   c.identity.Avatar,
		JoinedAt: now,
		LastSeen: now,
	})
	if err != nil {
		return err
	}
	if err := c.store.PutChild(ctx, code, store.CollParticipants, pid, doc); err != nil {
		return fmt.Errorf("failed to write participant: %w", err)
	}
	return nil
}

// enter installs the session locally and starts the lifecycle: session and
// roster subscriptions, the display tick, and the presence tracker.
func (c *Coordinator) enter(code string, sess models.Session, pid string, timer TimerState) {
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.code = code
	c.session = sess
	c.participantID = pid
	c.timer = timer
	c.transitionPending = false
	c.cancel = cancel
	c.mu.Unlock()

	sessSub, err := c.store.WatchSession(runCtx, code, func(doc store.Doc, ok bool) {
		c.applySession(gen, doc, ok)
	})
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to watch session")
	}
	rosterSub, err := c.store.WatchChildren(runCtx, code, store.CollParticipants, func(docs []store.Doc) {
		c.applyParticipants(gen, docs)
	})
	if err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to watch participants")
	}

	tracker := presence.NewTracker(c.store, c.clock, c)
	tracker.Start(runCtx)

	c.mu.Lock()
	c.subs = nil
	if sessSub != nil {
		c.subs = append(c.subs, sessSub)
	}
	if rosterSub != nil {
		c.subs = append(c.subs, rosterSub)
	}
	c.tracker = tracker
	c.mu.Unlock()

	c.wg.Add(1)
	go c.tickLoop(runCtx)
	c.notify()
}

func (c *Coordinator) applySession(gen int, doc store.Doc, ok bool) {
	if !ok {
		// Session document gone (reaped). The roster watch drives teardown.
		return
	}
	sess := store.DecodeSession(doc)
	now := c.clock.Now()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.session = sess
	c.timer = displayedState(sess, now)
	c.transitionPending = false
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) applyParticipants(gen int, docs []store.Doc) {
	roster := make([]models.Participant, 0, len(docs))
	for _, d := range docs {
		p := store.DecodeParticipant(d)
		if p.Removed {
			continue
		}
		roster = append(roster, p)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].ID < roster[j].ID
		}
		return roster[i].JoinedAt.Before(roster[j].JoinedAt)
	})

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.participants = roster
	selfGone := c.participantID != ""
	for _, p := range roster {
		if p.ID == c.participantID {
			selfGone = false
			break
		}
	}
	c.mu.Unlock()

	if selfGone {
		// Our row disappeared: evicted by the host. Tear down locally; the
		// remote row is already gone. The participant id stays cached so a
		// rejoin with the same identity can reuse it.
		log.Info().Msg("own participant row removed, leaving session")
		c.teardown(true)
	}
	c.notify()
}

func (c *Coordinator) tickLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.tick(ctx)
		}
	}
}

// tick decrements the displayed countdown. Reaching zero is only acted on
// by the host, which performs the authoritative phase transition; other
// clients sit at zero until the host's write arrives.
func (c *Coordinator) tick(ctx context.Context) {
	c.mu.Lock()
	if c.code == "" || !c.timer.IsRunning {
		c.mu.Unlock()
		return
	}
	if c.timer.TimeRemaining > 0 {
		c.timer.TimeRemaining--
	}
	fire := c.timer.TimeRemaining <= 0 &&
		c.participantID == c.session.HostID &&
		!c.transitionPending
	if fire {
		c.transitionPending = true
	}
	code := c.code
	sess := c.session
	observed := c.timer
	c.mu.Unlock()

	c.notify()
	if fire {
		c.completePhase(ctx, code, sess, observed)
	}
}

// completePhase writes the transition for a countdown that hit zero. The
// write is skipped if the latest snapshot no longer matches the observed
// (phase, round), so two would-be hosts cannot double-apply a transition.
func (c *Coordinator) completePhase(ctx context.Context, code string, sess models.Session, observed TimerState) {
	c.mu.Lock()
	cur := c.session.State
	if c.code != code || cur.CurrentPhase != observed.Phase || cur.Round != observed.Round || !cur.IsRunning {
		c.transitionPending = false
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	next := nextState(sess, observed.Phase, observed.Round)
	log.Info().
		Str("code", code).
		Str("from", string(observed.Phase)).
		Str("to", string(next.CurrentPhase)).
		Int("round", next.Round).
		Msg("phase complete")
	if err := c.store.MergeSession(ctx, code, store.StateFields(next)); err != nil {
		log.Error().Err(err).Str("code", code).Msg("failed to write phase transition")
		c.mu.Lock()
		c.transitionPending = false
		c.mu.Unlock()
	}
}

// StartTimer starts the countdown. Host only; a non-host call is a silent
// no-op (advisory gate, see type comment).
func (c *Coordinator) StartTimer(ctx context.Context) error {
	c.mu.Lock()
	if c.code == "" || c.participantID != c.session.HostID {
		c.mu.Unlock()
		log.Debug().Msg("ignoring start from non-host")
		return nil
	}
	code := c.code
	sess := c.session
	remaining := sess.State.TimeRemaining
	if remaining <= 0 {
		remaining = sess.PhaseDuration(sess.State.CurrentPhase)
	}
	st := models.SessionState{
		IsRunning:     true,
		CurrentPhase:  sess.State.CurrentPhase,
		TimeRemaining: remaining,
		Round:         sess.State.Round,
		StartedAt:     c.clock.Now(),
	}
	c.mu.Unlock()

	if err := c.store.MergeSession(ctx, code, store.StateFields(st)); err != nil {
		return fmt.Errorf("failed to start timer: %w", err)
	}
	return nil
}

// PauseTimer freezes the countdown at the host's current local value. Host
// only.
func (c *Coordinator) PauseTimer(ctx context.Context) error {
	c.mu.Lock()
	if c.code == "" || c.participantID != c.session.HostID {
		c.mu.Unlock()
		log.Debug().Msg("ignoring pause from non-host")
		return nil
	}
	code := c.code
	st := models.SessionState{
		IsRunning:     false,
		CurrentPhase:  c.session.State.CurrentPhase,
		TimeRemaining: c.timer.TimeRemaining,
		Round:         c.session.State.Round,
	}
	c.mu.Unlock()

	if err := c.store.MergeSession(ctx, code, store.StateFields(st)); err != nil {
		return fmt.Errorf("failed to pause timer: %w", err)
	}
	return nil
}

// SkipPhase advances to the next phase immediately, paused. Host only.
func (c *Coordinator) SkipPhase(ctx context.Context) error {
	c.mu.Lock()
	if c.code == "" || c.participantID != c.session.HostID {
		c.mu.Unlock()
		log.Debug().Msg("ignoring skip from non-host")
		return nil
	}
	code := c.code
	next := nextState(c.session, c.timer.Phase, c.timer.Round)
	c.mu.Unlock()

	if err := c.store.MergeSession(ctx, code, store.StateFields(next)); err != nil {
		return fmt.Errorf("failed to skip phase: %w", err)
	}
	return nil
}

// LeaveSession tears down the local lifecycle, deletes the caller's roster
// row and best-effort logs the departure. Safe to call when not in a
// session.
func (c *Coordinator) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	code, pid := c.code, c.participantID
	c.mu.Unlock()
	if code == "" {
		return nil
	}

	// Stop tasks and subscriptions before touching the remote row so a
	// late tick cannot mutate discarded state.
	c.teardown(false)

	if err := c.store.DeleteChild(ctx, code, store.CollParticipants, pid); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	c.logActivity(ctx, code, models.ActivityEntry{
		Type:          models.ActivityParticipantLeft,
		ParticipantID: pid,
		Username:      c.identity.Username,
	})
	log.Info().Str("code", code).Str("participant_id", pid).Msg("left session")
	c.notify()
	return nil
}

// KickParticipant removes a participant by id and logs the kick. Host
// only; silent no-op otherwise.
func (c *Coordinator) KickParticipant(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.code == "" || c.participantID != c.session.HostID {
		c.mu.Unlock()
		log.Debug().Msg("ignoring kick from non-host")
		return nil
	}
	code := c.code
	username := ""
	for _, p := range c.participants {
		if p.ID == id {
			username = p.Username
			break
		}
	}
	c.mu.Unlock()

	if err := c.store.DeleteChild(ctx, code, store.CollParticipants, id); err != nil {
		return fmt.Errorf("failed to kick participant: %w", err)
	}
	c.logActivity(ctx, code, models.ActivityEntry{
		Type:          models.ActivityParticipantKicked,
		ParticipantID: id,
		Username:      username,
		Reason:        "kicked",
	})
	log.Info().Str("code", code).Str("participant_id", id).Msg("kicked participant")
	return nil
}

// SetCurrentTask merges the caller's current task into its roster row.
func (c *Coordinator) SetCurrentTask(ctx context.Context, task string) error {
	c.mu.Lock()
	if c.code == "" {
		c.mu.Unlock()
		return nil
	}
	code, pid := c.code, c.participantID
	c.currentTask = task
	c.mu.Unlock()

	if err := c.store.MergeChild(ctx, code, store.CollParticipants, pid, store.Doc{"currentTask": task}); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (c *Coordinator) logActivity(ctx context.Context, code string, entry models.ActivityEntry) {
	entry.ID = uuid.New().String()[:8]
	entry.Timestamp = c.clock.Now()
	doc, err := store.Encode(entry)
	if err == nil {
		err = c.store.PutChild(ctx, code, store.CollActivity, entry.ID, doc)
	}
	if err != nil {
		log.Error().Err(err).Str("code", code).Str("type", string(entry.Type)).Msg("failed to log activity")
	}
}

// Stop tears the coordinator down without touching remote state, for app
// shutdown. Idempotent.
func (c *Coordinator) Stop() {
	c.teardown(false)
}

// teardown cancels the tick loop, unsubscribes every watch, stops the
// presence tracker and resets local state to idle. When keepID is true the
// participant id is cached for a future rejoin (the eviction path).
func (c *Coordinator) teardown(keepID bool) {
	c.mu.Lock()
	if c.code == "" {
		c.mu.Unlock()
		return
	}
	c.gen++
	cancel := c.cancel
	subs := c.subs
	tracker := c.tracker
	if keepID {
		c.cachedID = c.participantID
	}
	c.code = ""
	c.session = models.Session{}
	c.participants = nil
	c.participantID = ""
	c.currentTask = ""
	c.timer = idleTimer()
	c.transitionPending = false
	c.cancel = nil
	c.subs = nil
	c.tracker = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if tracker != nil {
		tracker.Stop()
	}
	c.wg.Wait()
}

// Code returns the current session code, or "" when idle.
func (c *Coordinator) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// ParticipantID returns the caller's participant id, or "" when idle.
func (c *Coordinator) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

// HostID returns the session's fixed host id, or "" when idle.
func (c *Coordinator) HostID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.HostID
}

// Username returns the client's display name.
func (c *Coordinator) Username() string {
	return c.identity.Username
}

// IsHost reports whether this client is the session host.
func (c *Coordinator) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code != "" && c.participantID == c.session.HostID
}

// InSession reports whether the client is currently in a session.
func (c *Coordinator) InSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code != ""
}

// Timer returns the locally displayed countdown state.
func (c *Coordinator) Timer() TimerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// Session returns the last observed session snapshot.
func (c *Coordinator) Session() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Participants returns the live roster ordered by join time.
func (c *Coordinator) Participants() []models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Participant, len(c.participants))
	copy(out, c.participants)
	return out
}
