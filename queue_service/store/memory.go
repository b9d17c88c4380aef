package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itskum47/waitroom/queue_service/resilience"
)

// MemoryQueueStore is an in-memory QueueStore for tests and single-node
// development without Redis. Timer expiry is evaluated lazily against the
// store clock, so tests can move time instead of sleeping.
type MemoryQueueStore struct {
	mu    sync.Mutex
	lists map[string][]string
	sets  map[string]map[string]struct{}
	vals  map[string]expiringValue

	now func() time.Time
}

type expiringValue struct {
	value     string
	expiresAt time.Time
}

// NewMemoryQueueStore initializes an empty MemoryQueueStore.
func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{
		lists: make(map[string][]string),
		sets:  make(map[string]map[string]struct{}),
		vals:  make(map[string]expiringValue),
		now:   time.Now,
	}
}

func (s *MemoryQueueStore) PushBack(ctx context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryQueueStore) PopFront(ctx context.Context, key string, n int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if n <= 0 || len(list) == 0 {
		return nil, nil
	}
	if n > int64(len(list)) {
		n = int64(len(list))
	}
	popped := make([]string, n)
	copy(popped, list[:n])
	rest := list[n:]
	if len(rest) == 0 {
		delete(s.lists, key)
	} else {
		s.lists[key] = rest
	}
	return popped, nil
}

func (s *MemoryQueueStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (s *MemoryQueueStore) Len(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryQueueStore) AddMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (s *MemoryQueueStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *MemoryQueueStore) RemoveMembers(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryQueueStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = expiringValue{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryQueueStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	if !ok {
		return -2 * time.Second, nil
	}
	remaining := v.expiresAt.Sub(s.now())
	if remaining <= 0 {
		delete(s.vals, key)
		return -2 * time.Second, nil
	}
	return remaining, nil
}

func (s *MemoryQueueStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.lists, key)
		delete(s.sets, key)
		delete(s.vals, key)
	}
	return nil
}

func (s *MemoryQueueStore) Ping(ctx context.Context) error {
	return nil
}

// MemoryMetaStore is an in-memory MetaStore with the same error contract
// as the Postgres backend, so handler and engine tests exercise the real
// classification paths.
type MemoryMetaStore struct {
	mu      sync.RWMutex
	domains map[string]*Domain
	events  map[string]*Event
	entries []*Entry
	tokens  map[string]*Token
}

// NewMemoryMetaStore initializes an empty MemoryMetaStore.
func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{
		domains: make(map[string]*Domain),
		events:  make(map[string]*Event),
		tokens:  make(map[string]*Token),
	}
}

// --- Domain Operations ---

func (s *MemoryMetaStore) CreateDomain(ctx context.Context, d *Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.domains {
		if existing.Name == d.Name {
			return fmt.Errorf("create domain: %w", resilience.ErrConflict)
		}
	}
	domainCopy := *d
	s.domains[d.ID] = &domainCopy
	return nil
}

func (s *MemoryMetaStore) GetDomainByName(ctx context.Context, name string) (*Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.domains {
		if d.Name == name {
			domainCopy := *d
			return &domainCopy, nil
		}
	}
	return nil, fmt.Errorf("get domain %s: %w", name, resilience.ErrNotFound)
}

func (s *MemoryMetaStore) ListDomains(ctx context.Context) ([]*Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Domain, 0, len(s.domains))
	for _, d := range s.domains {
		domainCopy := *d
		result = append(result, &domainCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryMetaStore) DeleteDomain(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.domains[id]; !ok {
		return fmt.Errorf("delete domain %s: %w", id, resilience.ErrNotFound)
	}
	delete(s.domains, id)
	return nil
}

// --- Event Operations ---

func (s *MemoryMetaStore) CreateEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.Domain == e.Domain && existing.Name == e.Name {
			return fmt.Errorf("create event: %w", resilience.ErrConflict)
		}
	}
	eventCopy := *e
	s.events[e.ID] = &eventCopy
	return nil
}

func (s *MemoryMetaStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("get event %s: %w", id, resilience.ErrNotFound)
	}
	eventCopy := *e
	return &eventCopy, nil
}

func (s *MemoryMetaStore) ListEvents(ctx context.Context) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectEvents(func(*Event) bool { return true }), nil
}

func (s *MemoryMetaStore) ListActiveEvents(ctx context.Context) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectEvents(func(e *Event) bool { return e.IsActive }), nil
}

func (s *MemoryMetaStore) collectEvents(keep func(*Event) bool) []*Event {
	result := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		if keep(e) {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

func (s *MemoryMetaStore) UpdateEvent(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.events[e.ID]
	if !ok {
		return fmt.Errorf("update event %s: %w", e.ID, resilience.ErrNotFound)
	}
	existing.Name = e.Name
	existing.Domain = e.Domain
	existing.QueueLimit = e.QueueLimit
	existing.IntervalSec = e.IntervalSec
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryMetaStore) SetEventActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return fmt.Errorf("set event active %s: %w", id, resilience.ErrNotFound)
	}
	e.IsActive = active
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryMetaStore) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return fmt.Errorf("delete event %s: %w", id, resilience.ErrNotFound)
	}
	delete(s.events, id)
	return nil
}

// --- Entry Journal ---

func (s *MemoryMetaStore) InsertEntry(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryCopy := *e
	s.entries = append(s.entries, &entryCopy)
	return nil
}

func (s *MemoryMetaStore) ListEntries(ctx context.Context, eventID string, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Entry
	// Insertion order is chronological, so walk backwards for newest first.
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if s.entries[i].EventID == eventID {
			entryCopy := *s.entries[i]
			result = append(result, &entryCopy)
		}
	}
	return result, nil
}

// --- Token Operations ---

func (s *MemoryMetaStore) CreateToken(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tokens {
		if existing.Secret == t.Secret {
			return fmt.Errorf("create token: %w", resilience.ErrConflict)
		}
	}
	tokenCopy := *t
	s.tokens[t.ID] = &tokenCopy
	return nil
}

func (s *MemoryMetaStore) GetTokenByID(ctx context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("get token %s: %w", id, resilience.ErrNotFound)
	}
	tokenCopy := *t
	return &tokenCopy, nil
}

func (s *MemoryMetaStore) GetTokenBySecret(ctx context.Context, secret string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.Secret == secret {
			tokenCopy := *t
			return &tokenCopy, nil
		}
	}
	return nil, fmt.Errorf("get token: %w", resilience.ErrNotFound)
}

func (s *MemoryMetaStore) ListTokens(ctx context.Context) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokenCopy := *t
		result = append(result, &tokenCopy)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryMetaStore) UpdateToken(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tokens[t.ID]
	if !ok {
		return fmt.Errorf("update token %s: %w", t.ID, resilience.ErrNotFound)
	}
	existing.Name = t.Name
	existing.ExpiresAt = t.ExpiresAt
	existing.IsActive = t.IsActive
	existing.LastUsedAt = t.LastUsedAt
	return nil
}

func (s *MemoryMetaStore) DeleteToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return fmt.Errorf("delete token %s: %w", id, resilience.ErrNotFound)
	}
	delete(s.tokens, id)
	return nil
}

func (s *MemoryMetaStore) Ping(ctx context.Context) error {
	return nil
}
