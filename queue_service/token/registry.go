package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/itskum47/waitroom/queue_service/store"
)

// DefaultExpiryDays is applied when a token is created without an explicit
// lifetime.
const DefaultExpiryDays = 15

// secretBytes is the entropy of a token secret; hex-encoded it yields a
// 64-character opaque string.
const secretBytes = 32

// Registry manages the opaque bearer tokens that gate the public queue
// endpoints. Secrets are random, stored as-is for exact-match lookup, and
// returned to the operator exactly once at creation.
type Registry struct {
	meta store.MetaStore
	log  zerolog.Logger
	now  func() time.Time
}

func NewRegistry(meta store.MetaStore, log zerolog.Logger) *Registry {
	return &Registry{meta: meta, log: log, now: time.Now}
}

// Generate mints a new token. expiresInDays <= 0 selects the default
// lifetime; neverExpires overrides it entirely. The returned record is the
// only carrier of the secret.
func (r *Registry) Generate(ctx context.Context, name string, expiresInDays int, neverExpires bool) (*store.Token, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token secret: %w", err)
	}

	now := r.now().UTC()
	t := &store.Token{
		ID:        uuid.NewString(),
		Secret:    hex.EncodeToString(buf),
		Name:      name,
		CreatedAt: now,
		IsActive:  true,
	}
	if !neverExpires {
		days := expiresInDays
		if days <= 0 {
			days = DefaultExpiryDays
		}
		exp := now.Add(time.Duration(days) * 24 * time.Hour)
		t.ExpiresAt = &exp
	}

	if err := r.meta.CreateToken(ctx, t); err != nil {
		return nil, err
	}
	r.log.Info().Str("token_id", t.ID).Str("name", name).Bool("never_expires", neverExpires).Msg("token created")
	return t, nil
}

// Validate resolves a bearer secret to a live token. Expired tokens are
// deactivated on first sight and rejected; a valid token gets its
// last-used stamp refreshed best-effort.
func (r *Registry) Validate(ctx context.Context, secret string) (*store.Token, error) {
	if secret == "" {
		return nil, fmt.Errorf("missing token: %w", resilience.ErrUnauthorized)
	}

	t, err := r.meta.GetTokenBySecret(ctx, secret)
	if errors.Is(err, resilience.ErrNotFound) {
		return nil, fmt.Errorf("unknown token: %w", resilience.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fmt.Errorf("revoked token: %w", resilience.ErrUnauthorized)
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(r.now()) {
		t.IsActive = false
		if uerr := r.meta.UpdateToken(ctx, t); uerr != nil {
			r.log.Warn().Err(uerr).Str("token_id", t.ID).Msg("failed to deactivate expired token")
		}
		return nil, fmt.Errorf("expired token: %w", resilience.ErrUnauthorized)
	}

	used := r.now().UTC()
	t.LastUsedAt = &used
	if uerr := r.meta.UpdateToken(ctx, t); uerr != nil {
		r.log.Warn().Err(uerr).Str("token_id", t.ID).Msg("failed to stamp token last-used")
	}
	return t, nil
}

// View is the listable face of a token: everything except the secret.
type View struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	IsActive   bool       `json:"isActive"`
	IsExpired  bool       `json:"isExpired"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// List returns all tokens, newest first, secrets omitted.
func (r *Registry) List(ctx context.Context) ([]View, error) {
	tokens, err := r.meta.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	views := make([]View, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, View{
			ID:         t.ID,
			Name:       t.Name,
			CreatedAt:  t.CreatedAt,
			ExpiresAt:  t.ExpiresAt,
			IsActive:   t.IsActive,
			IsExpired:  t.ExpiresAt != nil && t.ExpiresAt.Before(now),
			LastUsedAt: t.LastUsedAt,
		})
	}
	return views, nil
}

// Revoke deactivates a token in place; the record stays listable.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	t, err := r.meta.GetTokenByID(ctx, id)
	if err != nil {
		return err
	}
	t.IsActive = false
	if err := r.meta.UpdateToken(ctx, t); err != nil {
		return err
	}
	r.log.Info().Str("token_id", id).Msg("token revoked")
	return nil
}

// Delete removes a token record entirely.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.meta.DeleteToken(ctx, id); err != nil {
		return err
	}
	r.log.Info().Str("token_id", id).Msg("token deleted")
	return nil
}
