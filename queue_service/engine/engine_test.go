package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.RedisQueueStore, *store.MemoryMetaStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	queue := store.NewRedisQueueStore(mr.Addr(), "", 0)
	t.Cleanup(func() { queue.Close() })
	meta := store.NewMemoryMetaStore()
	eng := New(queue, meta, zerolog.Nop())
	return eng, queue, meta, mr
}

func testEvent(limit, intervalSec int) *store.Event {
	return &store.Event{
		ID:          "ev-1",
		Name:        "Launch",
		Domain:      "shop.example.com",
		QueueLimit:  limit,
		IntervalSec: intervalSec,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestJoinDirectEntry(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(2, 30)

	res, err := eng.Join(ctx, ev, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.State != StateActive {
		t.Errorf("Expected active, got %s", res.State)
	}
	if res.Position != 0 {
		t.Errorf("Expected position 0, got %d", res.Position)
	}
	if res.ActiveUsers != 1 || res.WaitingUsers != 0 {
		t.Errorf("Expected 1 active / 0 waiting, got %d/%d", res.ActiveUsers, res.WaitingUsers)
	}
	// Direct entry into an open slot reports no wait even though the
	// admission opened a window for those behind.
	if res.TimeRemaining != 0 {
		t.Errorf("Expected timeRemaining 0 on direct entry, got %d", res.TimeRemaining)
	}
	if res.ShowWaitingTimer {
		t.Error("Expected no waiting timer on direct entry")
	}
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected 30s window after first admission, got %v", ttl)
	}
}

func TestJoinFillAndQueue(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")
	res, err := eng.Join(ctx, ev, "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.State != StateActive || res.ActiveUsers != 2 {
		t.Errorf("Expected bob active with 2 active users, got %s/%d", res.State, res.ActiveUsers)
	}

	res, err = eng.Join(ctx, ev, "carol")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.State != StateWaiting {
		t.Errorf("Expected carol waiting, got %s", res.State)
	}
	if res.Position != 1 {
		t.Errorf("Expected waiting position 1, got %d", res.Position)
	}
	if res.WaitingUsers != 1 || res.Total != 3 {
		t.Errorf("Expected 1 waiting / 3 total, got %d/%d", res.WaitingUsers, res.Total)
	}
	if !res.ShowWaitingTimer {
		t.Error("Expected waiting timer shown for queued user")
	}
	if res.WaitingTimerDuration != 30 {
		t.Errorf("Expected waitingTimerDuration 30, got %d", res.WaitingTimerDuration)
	}
}

func TestJoinAlreadyActive(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")
	res, err := eng.Join(ctx, ev, "alice")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.State != StateActive || res.ActiveUsers != 1 {
		t.Errorf("Expected repeat join to report existing admission, got %s/%d", res.State, res.ActiveUsers)
	}
	// An already-active user sees the real window, not the direct-entry 0.
	if res.TimeRemaining <= 0 {
		t.Errorf("Expected positive timeRemaining for active user, got %d", res.TimeRemaining)
	}
}

func TestRotationOnExpiry(t *testing.T) {
	ctx := context.Background()
	eng, queue, meta, mr := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")
	eng.Join(ctx, ev, "bob")
	eng.Join(ctx, ev, "carol")
	eng.Join(ctx, ev, "dave")

	mr.FastForward(31 * time.Second)

	promoted, err := eng.Advance(ctx, ev.ID, ConfigFor(ev))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(promoted) != 2 || promoted[0] != "carol" || promoted[1] != "dave" {
		t.Errorf("Expected [carol dave] promoted, got %v", promoted)
	}

	roster, err := eng.Roster(ctx, ev.ID)
	if err != nil {
		t.Fatalf("Roster failed: %v", err)
	}
	if len(roster.Active) != 2 || roster.Active[0] != "carol" {
		t.Errorf("Expected active [carol dave], got %v", roster.Active)
	}
	if len(roster.Waiting) != 0 {
		t.Errorf("Expected empty waiting, got %v", roster.Waiting)
	}

	// Rotation restarts the window for the fresh batch.
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected fresh 30s window, got %v", ttl)
	}

	// Evicted users leave the membership set so a rejoin starts over.
	if ok, _ := queue.IsMember(ctx, store.UsersKey(ev.ID), "alice"); ok {
		t.Error("Expected alice out of membership after eviction")
	}
	if ok, _ := queue.IsMember(ctx, store.UsersKey(ev.ID), "carol"); !ok {
		t.Error("Expected carol in membership after promotion")
	}

	// Every admission was journaled: two direct, two by rotation.
	entries, err := meta.ListEntries(ctx, ev.ID, 50)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("Expected 4 journal entries, got %d", len(entries))
	}
}

func TestAdvanceNoOp(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")
	mr.FastForward(10 * time.Second)

	// Open window, free slot, nobody waiting: nothing to do, and the
	// timer must not be touched.
	promoted, err := eng.Advance(ctx, ev.ID, ConfigFor(ev))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if promoted != nil {
		t.Errorf("Expected no promotions, got %v", promoted)
	}
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 20*time.Second {
		t.Errorf("Expected timer untouched at 20s, got %v", ttl)
	}
}

func TestTurnoverWithEmptyWaiting(t *testing.T) {
	ctx := context.Background()
	eng, queue, _, mr := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")
	mr.FastForward(31 * time.Second)

	promoted, err := eng.Advance(ctx, ev.ID, ConfigFor(ev))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(promoted) != 0 {
		t.Errorf("Expected no promotions, got %v", promoted)
	}

	roster, _ := eng.Roster(ctx, ev.ID)
	if len(roster.Active) != 0 || len(roster.Waiting) != 0 {
		t.Errorf("Expected fully drained event, got %+v", roster)
	}
	// Nobody to admit: the window closes instead of restarting.
	if mr.Exists(store.TimerKey(ev.ID)) {
		t.Error("Expected timer cleared after empty turnover")
	}
	if ok, _ := queue.IsMember(ctx, store.UsersKey(ev.ID), "alice"); ok {
		t.Error("Expected alice evicted from membership")
	}

	// A drained event behaves like a never-used one.
	res, err := eng.Join(ctx, ev, "alice")
	if err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	if res.State != StateActive {
		t.Errorf("Expected evicted user to re-enter directly, got %s", res.State)
	}
}

func TestPartialTopUpKeepsWindow(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(3, 30)

	eng.Join(ctx, ev, "alice")
	if _, err := eng.Enqueue(ctx, ev.ID, "bob"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	mr.FastForward(10 * time.Second)

	promoted, err := eng.Advance(ctx, ev.ID, ConfigFor(ev))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != "bob" {
		t.Errorf("Expected [bob] promoted, got %v", promoted)
	}

	roster, _ := eng.Roster(ctx, ev.ID)
	if len(roster.Active) != 2 || roster.Active[0] != "alice" || roster.Active[1] != "bob" {
		t.Errorf("Expected active [alice bob], got %v", roster.Active)
	}
	// Top-up below capacity inside an open window leaves the clock alone.
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 20*time.Second {
		t.Errorf("Expected timer untouched at 20s, got %v", ttl)
	}
}

func TestTopUpToCapacityRefreshesWindow(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")
	eng.Enqueue(ctx, ev.ID, "bob")
	mr.FastForward(10 * time.Second)

	promoted, err := eng.Advance(ctx, ev.ID, ConfigFor(ev))
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if len(promoted) != 1 {
		t.Fatalf("Expected one promotion, got %v", promoted)
	}
	// Reaching capacity reopens the window in full.
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected refreshed 30s window at capacity, got %v", ttl)
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")

	st1, err := eng.Enqueue(ctx, ev.ID, "dave")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	st2, err := eng.Enqueue(ctx, ev.ID, "dave")
	if err != nil {
		t.Fatalf("Repeat enqueue failed: %v", err)
	}
	if st1.Position != st2.Position || st1.Position != 1 {
		t.Errorf("Expected stable position 1, got %d then %d", st1.Position, st2.Position)
	}
	if st2.WaitingUsers != 1 {
		t.Errorf("Expected dave queued exactly once, got %d waiting", st2.WaitingUsers)
	}

	// Enqueueing an active user is also a no-op.
	st3, err := eng.Enqueue(ctx, ev.ID, "alice")
	if err != nil {
		t.Fatalf("Enqueue of active user failed: %v", err)
	}
	if st3.State != StateActive {
		t.Errorf("Expected alice reported active, got %s", st3.State)
	}
	if st3.WaitingUsers != 1 {
		t.Errorf("Expected waiting untouched, got %d", st3.WaitingUsers)
	}
}

func TestStatusAbsentUser(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")
	eng.Enqueue(ctx, ev.ID, "bob")
	eng.Enqueue(ctx, ev.ID, "carol")

	st, err := eng.Status(ctx, ev.ID, "ghost")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.State != StateWaiting {
		t.Errorf("Expected absent user reported waiting, got %s", st.State)
	}
	// The would-be position if they enqueued next.
	if st.Position != 3 {
		t.Errorf("Expected position 3, got %d", st.Position)
	}
	if st.Total != 3 {
		t.Errorf("Expected total 3, got %d", st.Total)
	}
}

func TestJoinWaitingPromotedOnRejoin(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")
	eng.Join(ctx, ev, "bob") // queued behind alice

	mr.FastForward(31 * time.Second)

	// Bob's next join runs the opportunistic Advance and sees the
	// promotion immediately.
	res, err := eng.Join(ctx, ev, "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.State != StateActive {
		t.Errorf("Expected bob promoted on rejoin, got %s", res.State)
	}
	if res.ActiveUsers != 1 || res.WaitingUsers != 0 {
		t.Errorf("Expected 1 active / 0 waiting, got %d/%d", res.ActiveUsers, res.WaitingUsers)
	}
}

func TestJoinDirectOverStaleBatch(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")
	mr.FastForward(31 * time.Second)

	// Expired window, stale batch, nobody waiting: the queue counts as
	// idle and bob enters directly, but into a fresh window rather than
	// an open slot.
	res, err := eng.Join(ctx, ev, "bob")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if res.State != StateActive {
		t.Errorf("Expected direct entry, got %s", res.State)
	}
	if res.TimeRemaining != 30 {
		t.Errorf("Expected timeRemaining 30 over stale batch, got %d", res.TimeRemaining)
	}
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected fresh window, got %v", ttl)
	}
}

func TestProbeShowsWaitingTimer(t *testing.T) {
	ctx := context.Background()
	eng, _, _, _ := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")
	eng.Join(ctx, ev, "bob")

	res, err := eng.Probe(ctx, ev, "bob")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.State != StateWaiting {
		t.Errorf("Expected waiting, got %s", res.State)
	}
	if !res.ShowWaitingTimer || res.WaitingTimerDuration != 30 {
		t.Errorf("Expected waiting timer hint, got %v/%d", res.ShowWaitingTimer, res.WaitingTimerDuration)
	}

	// An active user never sees the hint.
	res, err = eng.Probe(ctx, ev, "alice")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if res.State != StateActive || res.ShowWaitingTimer {
		t.Errorf("Expected active without hint, got %s/%v", res.State, res.ShowWaitingTimer)
	}
}

func TestStartBackfill(t *testing.T) {
	ctx := context.Background()
	eng, _, meta, mr := newTestEngine(t)
	ev := testEvent(2, 30)
	ev.IsActive = false
	meta.CreateEvent(ctx, ev)

	eng.Enqueue(ctx, ev.ID, "carol")
	eng.Enqueue(ctx, ev.ID, "dave")

	if err := eng.Start(ctx, ev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	roster, _ := eng.Roster(ctx, ev.ID)
	// Backfill promotes exactly one regardless of capacity.
	if len(roster.Active) != 1 || roster.Active[0] != "carol" {
		t.Errorf("Expected active [carol], got %v", roster.Active)
	}
	if len(roster.Waiting) != 1 || roster.Waiting[0] != "dave" {
		t.Errorf("Expected waiting [dave], got %v", roster.Waiting)
	}
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected 30s window after start, got %v", ttl)
	}

	stored, _ := meta.GetEvent(ctx, ev.ID)
	if !stored.IsActive || !ev.IsActive {
		t.Error("Expected event marked active")
	}
}

func TestStartEmptyEvent(t *testing.T) {
	ctx := context.Background()
	eng, _, meta, mr := newTestEngine(t)
	ev := testEvent(2, 30)
	ev.IsActive = false
	meta.CreateEvent(ctx, ev)

	if err := eng.Start(ctx, ev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// Nothing to admit: active, no window.
	if mr.Exists(store.TimerKey(ev.ID)) {
		t.Error("Expected no timer for an empty start")
	}
	stored, _ := meta.GetEvent(ctx, ev.ID)
	if !stored.IsActive {
		t.Error("Expected event marked active")
	}
}

func TestStopPreservesWaiting(t *testing.T) {
	ctx := context.Background()
	eng, queue, meta, mr := newTestEngine(t)
	ev := testEvent(2, 30)
	meta.CreateEvent(ctx, ev)

	eng.Join(ctx, ev, "alice")
	eng.Join(ctx, ev, "bob")
	eng.Join(ctx, ev, "carol")
	eng.Join(ctx, ev, "dave")

	if err := eng.Stop(ctx, ev); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	roster, _ := eng.Roster(ctx, ev.ID)
	if len(roster.Active) != 0 {
		t.Errorf("Expected active discharged, got %v", roster.Active)
	}
	if len(roster.Waiting) != 2 || roster.Waiting[0] != "carol" {
		t.Errorf("Expected waiting [carol dave] preserved, got %v", roster.Waiting)
	}
	if mr.Exists(store.TimerKey(ev.ID)) {
		t.Error("Expected timer cleared on stop")
	}

	// Discharged users leave membership; waiting users keep their place.
	if ok, _ := queue.IsMember(ctx, store.UsersKey(ev.ID), "alice"); ok {
		t.Error("Expected alice out of membership")
	}
	if ok, _ := queue.IsMember(ctx, store.UsersKey(ev.ID), "carol"); !ok {
		t.Error("Expected carol still a member")
	}

	stored, _ := meta.GetEvent(ctx, ev.ID)
	if stored.IsActive {
		t.Error("Expected event marked inactive")
	}

	// Subsequent start promotes the head of the preserved line.
	if err := eng.Start(ctx, ev); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	roster, _ = eng.Roster(ctx, ev.ID)
	if len(roster.Active) != 1 || roster.Active[0] != "carol" {
		t.Errorf("Expected carol promoted on restart, got %v", roster.Active)
	}
}

func TestAdvanceNow(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")
	eng.Join(ctx, ev, "bob")
	eng.Join(ctx, ev, "carol")
	eng.Join(ctx, ev, "dave")
	eng.Join(ctx, ev, "erin")

	moved, roster, err := eng.AdvanceNow(ctx, ev)
	if err != nil {
		t.Fatalf("AdvanceNow failed: %v", err)
	}
	if len(moved) != 2 || moved[0] != "carol" || moved[1] != "dave" {
		t.Errorf("Expected [carol dave] moved, got %v", moved)
	}
	if len(roster.Active) != 2 || roster.Active[0] != "carol" {
		t.Errorf("Expected active [carol dave], got %v", roster.Active)
	}
	if len(roster.Waiting) != 1 || roster.Waiting[0] != "erin" {
		t.Errorf("Expected waiting [erin], got %v", roster.Waiting)
	}
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected fresh window after manual rotation, got %v", ttl)
	}
}

func TestAdvanceNowEmptyWaiting(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(2, 30)

	eng.Join(ctx, ev, "alice")

	moved, roster, err := eng.AdvanceNow(ctx, ev)
	if err != nil {
		t.Fatalf("AdvanceNow failed: %v", err)
	}
	if len(moved) != 0 {
		t.Errorf("Expected nothing moved, got %v", moved)
	}
	if len(roster.Active) != 0 || len(roster.Waiting) != 0 {
		t.Errorf("Expected drained event, got %+v", roster)
	}
	if mr.Exists(store.TimerKey(ev.ID)) {
		t.Error("Expected timer cleared when nothing promoted")
	}
}

func TestEnqueueBatch(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(3, 30)

	users, err := eng.EnqueueBatch(ctx, ev, 5)
	if err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}
	if len(users) != 5 {
		t.Fatalf("Expected 5 synthetic users, got %d", len(users))
	}
	for _, u := range users {
		if !strings.HasPrefix(u, "load-") {
			t.Errorf("Expected load- prefix, got %s", u)
		}
	}

	roster, _ := eng.Roster(ctx, ev.ID)
	if len(roster.Active) != 3 {
		t.Errorf("Expected 3 active after the trailing advance, got %d", len(roster.Active))
	}
	if len(roster.Waiting) != 2 {
		t.Errorf("Expected 2 still waiting, got %d", len(roster.Waiting))
	}
	if ttl := mr.TTL(store.TimerKey(ev.ID)); ttl != 30*time.Second {
		t.Errorf("Expected window open at capacity, got %v", ttl)
	}
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	eng, _, _, mr := newTestEngine(t)
	ev := testEvent(1, 30)

	eng.Join(ctx, ev, "alice")
	eng.Join(ctx, ev, "bob")

	if err := eng.Purge(ctx, ev.ID); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	for _, key := range []string{
		store.ActiveKey(ev.ID), store.WaitingKey(ev.ID),
		store.UsersKey(ev.ID), store.TimerKey(ev.ID),
	} {
		if mr.Exists(key) {
			t.Errorf("Expected %s purged", key)
		}
	}
}

func TestSecondsLeft(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want int64
	}{
		{-2 * time.Second, 0},
		{0, 0},
		{500 * time.Millisecond, 1}, // rounds up: the window is still open
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{30 * time.Second, 30},
	}
	for _, c := range cases {
		if got := secondsLeft(c.ttl); got != c.want {
			t.Errorf("secondsLeft(%v): expected %d, got %d", c.ttl, c.want, got)
		}
	}
}
