package store

import (
	"context"
	"time"
)

// QueueStore is the ephemeral admission state: the per-event lists, the
// membership set and the window timer. Every method maps to one atomic
// primitive of the backing store; the engine never assumes multi-key
// transactions on top of this interface.
//
// Implementations report infrastructure failures wrapped in
// resilience.ErrQueueStoreUnavailable. An absent key is not an error:
// reads return empty results and TTL returns a non-positive duration.
type QueueStore interface {
	// PushBack appends values to the tail of a list and returns the new
	// list length.
	PushBack(ctx context.Context, key string, values ...string) (int64, error)

	// PopFront atomically removes and returns up to n values from the head
	// of a list. An absent list yields an empty slice.
	PopFront(ctx context.Context, key string, n int64) ([]string, error)

	// Range returns the list slice [start, stop], inclusive, with negative
	// indices counting from the tail.
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Len returns the list length, 0 for an absent list.
	Len(ctx context.Context, key string) (int64, error)

	// AddMember adds member to a set, reporting true when it was not
	// already present.
	AddMember(ctx context.Context, key, member string) (bool, error)

	// IsMember reports set membership.
	IsMember(ctx context.Context, key, member string) (bool, error)

	// RemoveMembers removes members from a set. Absent members are ignored.
	RemoveMembers(ctx context.Context, key string, members ...string) error

	// SetWithTTL writes a string key that expires after ttl, resetting the
	// clock when the key already exists.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key. Non-positive means the
	// key is absent or already expired.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes keys. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Ping probes store liveness.
	Ping(ctx context.Context) error
}

// MetaStore is the durable side: domains, events, the admission journal
// and API tokens.
//
// Lookups that find nothing return resilience.ErrNotFound; unique
// collisions return resilience.ErrConflict; infrastructure failures are
// wrapped in resilience.ErrMetaStoreUnavailable so an outage is never
// mistaken for absence.
type MetaStore interface {
	CreateDomain(ctx context.Context, d *Domain) error
	GetDomainByName(ctx context.Context, name string) (*Domain, error)
	ListDomains(ctx context.Context) ([]*Domain, error)
	DeleteDomain(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context) ([]*Event, error)
	// ListActiveEvents returns only events whose queues the scheduler
	// should be rotating.
	ListActiveEvents(ctx context.Context) ([]*Event, error)
	// UpdateEvent rewrites name and queue parameters. It never touches
	// IsActive; that flips only through SetEventActive.
	UpdateEvent(ctx context.Context, e *Event) error
	SetEventActive(ctx context.Context, id string, active bool) error
	DeleteEvent(ctx context.Context, id string) error

	// InsertEntry appends to the admission journal.
	InsertEntry(ctx context.Context, e *Entry) error
	// ListEntries returns the newest entries for an event, most recent
	// first.
	ListEntries(ctx context.Context, eventID string, limit int) ([]*Entry, error)

	CreateToken(ctx context.Context, t *Token) error
	GetTokenByID(ctx context.Context, id string) (*Token, error)
	GetTokenBySecret(ctx context.Context, secret string) (*Token, error)
	ListTokens(ctx context.Context) ([]*Token, error)
	UpdateToken(ctx context.Context, t *Token) error
	DeleteToken(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}
