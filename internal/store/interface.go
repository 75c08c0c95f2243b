// Package store holds the collaborators the core calls out to: the identity
// directory, the message store and the moderation outcome store.
package store

import (
	"context"
	"errors"

	"github.com/dkeye/Agora/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidConfig    = errors.New("invalid store config")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Directory resolves identities for the authenticator and room access checks.
type Directory interface {
	// Lookup returns ErrNotFound if no account of that kind exists.
	Lookup(ctx context.Context, kind domain.IdentityKind, id domain.IdentityID) (*domain.Account, error)
	CanAccess(ctx context.Context, id domain.IdentityID, room domain.RoomKey) (bool, error)
}

// MessageStore persists chat messages and their reactions.
type MessageStore interface {
	Save(ctx context.Context, msg *domain.Message) error
	// Get returns ErrNotFound for unknown or deleted messages.
	Get(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	Update(ctx context.Context, msg *domain.Message) error
	Delete(ctx context.Context, id domain.MessageID) error
	// ToggleReaction flips the reaction of who and returns the new aggregate.
	ToggleReaction(ctx context.Context, id domain.MessageID, who domain.IdentityID, emoji string) ([]domain.ReactionCount, error)
	Close() error
}

// ModerationStore records moderation requests and their outcomes.
type ModerationStore interface {
	Save(ctx context.Context, req *domain.ModerationRequest) error
	Get(ctx context.Context, id domain.RequestID) (*domain.ModerationRequest, error)
	Close() error
}
