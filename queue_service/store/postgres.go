package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itskum47/waitroom/queue_service/resilience"
)

// PostgresMetaStore implements MetaStore on a PostgreSQL backend.
type PostgresMetaStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMetaStore builds the connection pool without dialing. The only
// constructor failure is an unparseable connection string, which is a
// configuration error; an unreachable database surfaces per call so the
// service can start degraded.
func NewPostgresMetaStore(ctx context.Context, connString string) (*PostgresMetaStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &PostgresMetaStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresMetaStore) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL,
	queue_limit INT NOT NULL CHECK (queue_limit BETWEEN 1 AND 1000),
	interval_sec INT NOT NULL CHECK (interval_sec BETWEEN 1 AND 3600),
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (domain, name)
);

CREATE TABLE IF NOT EXISTS entries (
	id BIGSERIAL PRIMARY KEY,
	event_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	entered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS entries_event_time_idx ON entries (event_id, entered_at DESC);

CREATE TABLE IF NOT EXISTS tokens (
	id TEXT PRIMARY KEY,
	secret TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_used_at TIMESTAMPTZ
);
`

// Bootstrap creates the schema when it does not exist yet. Idempotent.
func (s *PostgresMetaStore) Bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return metaErr("bootstrap schema", err)
}

// metaErr classifies a pgx error into the store error kinds: absent rows,
// unique collisions, constraint violations, and everything else as
// metadata-store unavailability.
func metaErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, resilience.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", op, resilience.ErrConflict)
		case "23514": // check_violation
			return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, resilience.ErrValidation)
		}
	}
	return fmt.Errorf("%w: %s: %v", resilience.ErrMetaStoreUnavailable, op, err)
}

// --- Domain Operations ---

func (s *PostgresMetaStore) CreateDomain(ctx context.Context, d *Domain) error {
	query := `INSERT INTO domains (id, name, created_at) VALUES ($1, $2, $3)`
	_, err := s.pool.Exec(ctx, query, d.ID, d.Name, d.CreatedAt)
	return metaErr("create domain", err)
}

func (s *PostgresMetaStore) GetDomainByName(ctx context.Context, name string) (*Domain, error) {
	query := `SELECT id, name, created_at FROM domains WHERE name = $1`
	var d Domain
	err := s.pool.QueryRow(ctx, query, name).Scan(&d.ID, &d.Name, &d.CreatedAt)
	if err != nil {
		return nil, metaErr("get domain "+name, err)
	}
	return &d, nil
}

func (s *PostgresMetaStore) ListDomains(ctx context.Context) ([]*Domain, error) {
	query := `SELECT id, name, created_at FROM domains ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, metaErr("list domains", err)
	}
	defer rows.Close()

	var domains []*Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.ID, &d.Name, &d.CreatedAt); err != nil {
			return nil, metaErr("list domains", err)
		}
		domains = append(domains, &d)
	}
	return domains, metaErr("list domains", rows.Err())
}

func (s *PostgresMetaStore) DeleteDomain(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM domains WHERE id = $1`, id)
	if err != nil {
		return metaErr("delete domain", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete domain %s: %w", id, resilience.ErrNotFound)
	}
	return nil
}

// --- Event Operations ---

func (s *PostgresMetaStore) CreateEvent(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (id, name, domain, queue_limit, interval_sec, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		e.ID, e.Name, e.Domain, e.QueueLimit, e.IntervalSec, e.IsActive, e.CreatedAt, e.UpdatedAt,
	)
	return metaErr("create event", err)
}

func (s *PostgresMetaStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	query := `
		SELECT id, name, domain, queue_limit, interval_sec, is_active, created_at, updated_at
		FROM events WHERE id = $1
	`
	var e Event
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.Name, &e.Domain, &e.QueueLimit, &e.IntervalSec, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, metaErr("get event "+id, err)
	}
	return &e, nil
}

func (s *PostgresMetaStore) ListEvents(ctx context.Context) ([]*Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, name, domain, queue_limit, interval_sec, is_active, created_at, updated_at
		FROM events ORDER BY created_at
	`)
}

func (s *PostgresMetaStore) ListActiveEvents(ctx context.Context) ([]*Event, error) {
	return s.queryEvents(ctx, `
		SELECT id, name, domain, queue_limit, interval_sec, is_active, created_at, updated_at
		FROM events WHERE is_active ORDER BY created_at
	`)
}

func (s *PostgresMetaStore) queryEvents(ctx context.Context, query string) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, metaErr("list events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.Name, &e.Domain, &e.QueueLimit, &e.IntervalSec, &e.IsActive, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, metaErr("list events", err)
		}
		events = append(events, &e)
	}
	return events, metaErr("list events", rows.Err())
}

func (s *PostgresMetaStore) UpdateEvent(ctx context.Context, e *Event) error {
	query := `
		UPDATE events SET name = $2, domain = $3, queue_limit = $4, interval_sec = $5, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, e.ID, e.Name, e.Domain, e.QueueLimit, e.IntervalSec)
	if err != nil {
		return metaErr("update event", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update event %s: %w", e.ID, resilience.ErrNotFound)
	}
	return nil
}

func (s *PostgresMetaStore) SetEventActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE events SET is_active = $2, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, active)
	if err != nil {
		return metaErr("set event active", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set event active %s: %w", id, resilience.ErrNotFound)
	}
	return nil
}

func (s *PostgresMetaStore) DeleteEvent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return metaErr("delete event", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete event %s: %w", id, resilience.ErrNotFound)
	}
	return nil
}

// --- Entry Journal ---

func (s *PostgresMetaStore) InsertEntry(ctx context.Context, e *Entry) error {
	query := `INSERT INTO entries (event_id, user_id, entered_at) VALUES ($1, $2, $3)`
	_, err := s.pool.Exec(ctx, query, e.EventID, e.UserID, e.EnteredAt)
	return metaErr("insert entry", err)
}

func (s *PostgresMetaStore) ListEntries(ctx context.Context, eventID string, limit int) ([]*Entry, error) {
	query := `
		SELECT event_id, user_id, entered_at
		FROM entries WHERE event_id = $1 ORDER BY entered_at DESC LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, eventID, limit)
	if err != nil {
		return nil, metaErr("list entries", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EventID, &e.UserID, &e.EnteredAt); err != nil {
			return nil, metaErr("list entries", err)
		}
		entries = append(entries, &e)
	}
	return entries, metaErr("list entries", rows.Err())
}

// --- Token Operations ---

func (s *PostgresMetaStore) CreateToken(ctx context.Context, t *Token) error {
	query := `
		INSERT INTO tokens (id, secret, name, created_at, expires_at, is_active, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.Secret, t.Name, t.CreatedAt, t.ExpiresAt, t.IsActive, t.LastUsedAt,
	)
	return metaErr("create token", err)
}

func (s *PostgresMetaStore) GetTokenByID(ctx context.Context, id string) (*Token, error) {
	query := `
		SELECT id, secret, name, created_at, expires_at, is_active, last_used_at
		FROM tokens WHERE id = $1
	`
	var t Token
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Secret, &t.Name, &t.CreatedAt, &t.ExpiresAt, &t.IsActive, &t.LastUsedAt,
	)
	if err != nil {
		return nil, metaErr("get token "+id, err)
	}
	return &t, nil
}

func (s *PostgresMetaStore) GetTokenBySecret(ctx context.Context, secret string) (*Token, error) {
	query := `
		SELECT id, secret, name, created_at, expires_at, is_active, last_used_at
		FROM tokens WHERE secret = $1
	`
	var t Token
	err := s.pool.QueryRow(ctx, query, secret).Scan(
		&t.ID, &t.Secret, &t.Name, &t.CreatedAt, &t.ExpiresAt, &t.IsActive, &t.LastUsedAt,
	)
	if err != nil {
		// Never echo the secret into error text.
		return nil, metaErr("get token", err)
	}
	return &t, nil
}

func (s *PostgresMetaStore) ListTokens(ctx context.Context) ([]*Token, error) {
	query := `
		SELECT id, secret, name, created_at, expires_at, is_active, last_used_at
		FROM tokens ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, metaErr("list tokens", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(
			&t.ID, &t.Secret, &t.Name, &t.CreatedAt, &t.ExpiresAt, &t.IsActive, &t.LastUsedAt,
		); err != nil {
			return nil, metaErr("list tokens", err)
		}
		tokens = append(tokens, &t)
	}
	return tokens, metaErr("list tokens", rows.Err())
}

func (s *PostgresMetaStore) UpdateToken(ctx context.Context, t *Token) error {
	query := `
		UPDATE tokens SET name = $2, expires_at = $3, is_active = $4, last_used_at = $5
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, t.ID, t.Name, t.ExpiresAt, t.IsActive, t.LastUsedAt)
	if err != nil {
		return metaErr("update token", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update token %s: %w", t.ID, resilience.ErrNotFound)
	}
	return nil
}

func (s *PostgresMetaStore) DeleteToken(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, id)
	if err != nil {
		return metaErr("delete token", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete token %s: %w", id, resilience.ErrNotFound)
	}
	return nil
}

func (s *PostgresMetaStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", resilience.ErrMetaStoreUnavailable, err)
	}
	return nil
}
