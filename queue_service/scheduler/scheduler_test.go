package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
)

type fakeMeta struct {
	store.MetaStore
	events []*store.Event
	err    error
	calls  int
}

func (m *fakeMeta) ListActiveEvents(ctx context.Context) ([]*store.Event, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

type fakeQueue struct {
	store.QueueStore
	pingErr error
}

func (q *fakeQueue) Ping(ctx context.Context) error {
	return q.pingErr
}

type fakeAdvancer struct {
	advanced []string
	failFor  map[string]bool
}

func (f *fakeAdvancer) AdvanceEvent(ctx context.Context, ev *store.Event) ([]string, error) {
	if f.failFor[ev.ID] {
		return nil, errors.New("simulated advance failure")
	}
	f.advanced = append(f.advanced, ev.ID)
	return []string{"u"}, nil
}

func twoEvents() []*store.Event {
	return []*store.Event{
		{ID: "ev-1", QueueLimit: 2, IntervalSec: 30, IsActive: true},
		{ID: "ev-2", QueueLimit: 5, IntervalSec: 60, IsActive: true},
	}
}

func TestTickAdvancesActiveEvents(t *testing.T) {
	meta := &fakeMeta{events: twoEvents()}
	adv := &fakeAdvancer{}
	s := New(meta, &fakeQueue{}, adv, resilience.NewHealth(), zerolog.Nop())

	s.tick(context.Background())

	if len(adv.advanced) != 2 || adv.advanced[0] != "ev-1" || adv.advanced[1] != "ev-2" {
		t.Errorf("Expected both events advanced in order, got %v", adv.advanced)
	}
}

func TestTickIsolatesEventFailure(t *testing.T) {
	meta := &fakeMeta{events: twoEvents()}
	adv := &fakeAdvancer{failFor: map[string]bool{"ev-1": true}}
	s := New(meta, &fakeQueue{}, adv, resilience.NewHealth(), zerolog.Nop())

	s.tick(context.Background())

	if len(adv.advanced) != 1 || adv.advanced[0] != "ev-2" {
		t.Errorf("Expected ev-2 advanced despite ev-1 failing, got %v", adv.advanced)
	}
}

func TestMetaFailureSuspendsRotation(t *testing.T) {
	meta := &fakeMeta{err: errors.New("connection refused")}
	adv := &fakeAdvancer{}
	health := resilience.NewHealth()
	s := New(meta, &fakeQueue{}, adv, health, zerolog.Nop())

	s.tick(context.Background())
	if health.MetaStoreUp() {
		t.Error("Expected metadata store marked down")
	}
	if meta.calls != 1 {
		t.Errorf("Expected 1 list call, got %d", meta.calls)
	}

	// Within the backoff window the store is not probed again.
	meta.err = nil
	s.tick(context.Background())
	if meta.calls != 1 {
		t.Errorf("Expected backoff to skip the tick, got %d calls", meta.calls)
	}
	if len(adv.advanced) != 0 {
		t.Errorf("Expected no advances while suspended, got %v", adv.advanced)
	}

	// After the backoff deadline rotation resumes and health recovers.
	s.metaRetryAt = time.Time{}
	s.tick(context.Background())
	if meta.calls != 2 {
		t.Errorf("Expected list retried after backoff, got %d calls", meta.calls)
	}
	if !health.MetaStoreUp() {
		t.Error("Expected metadata store marked up again")
	}
}

func TestQueueFailureSuspendsRotation(t *testing.T) {
	meta := &fakeMeta{events: twoEvents()}
	queue := &fakeQueue{pingErr: errors.New("connection refused")}
	adv := &fakeAdvancer{}
	health := resilience.NewHealth()
	s := New(meta, queue, adv, health, zerolog.Nop())

	s.tick(context.Background())
	if health.QueueStoreUp() {
		t.Error("Expected queue store marked down")
	}
	if len(adv.advanced) != 0 {
		t.Errorf("Expected no advances with queue store down, got %v", adv.advanced)
	}

	queue.pingErr = nil
	s.tick(context.Background())
	if meta.calls != 1 {
		t.Errorf("Expected queue backoff to skip the whole tick, got %d list calls", meta.calls)
	}

	s.queueRetryAt = time.Time{}
	s.tick(context.Background())
	if !health.QueueStoreUp() {
		t.Error("Expected queue store marked up again")
	}
	if len(adv.advanced) != 2 {
		t.Errorf("Expected advances after recovery, got %v", adv.advanced)
	}
}

func TestStartStop(t *testing.T) {
	meta := &fakeMeta{events: twoEvents()}
	adv := &fakeAdvancer{}
	s := New(meta, &fakeQueue{}, adv, resilience.NewHealth(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Let at least one tick fire.
	time.Sleep(1200 * time.Millisecond)
	s.Stop()

	if meta.calls == 0 {
		t.Error("Expected the loop to have ticked at least once")
	}
	if len(adv.advanced) == 0 {
		t.Error("Expected events advanced by the loop")
	}
}
