package interfaces

import (
	"context"
	"time"

	"confeed/pkg/types"
)

// IdentityStore persists human and synthetic identities.
type IdentityStore interface {
	// CreateIdentity returns ErrNicknameTaken when the nickname is in use.
	CreateIdentity(ctx context.Context, identity *types.Identity) error
	// GetIdentity returns ErrIdentityNotFound for unknown ids.
	GetIdentity(ctx context.Context, id string) (*types.Identity, error)
	UpdateIdentityMetadata(ctx context.Context, identity *types.Identity) error
	CountIdentities(ctx context.Context) (int, error)
}

// TokenStore maps opaque bearer tokens to identity ids.
type TokenStore interface {
	StoreToken(ctx context.Context, token, identityID string, expiresAt time.Time) error
	// LookupToken returns ErrTokenNotFound for unknown or expired tokens.
	LookupToken(ctx context.Context, token string, now time.Time) (string, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	StoreMessage(ctx context.Context, message *types.ChatMessage) error
	GetMessageView(ctx context.Context, id string) (*types.MessageView, error)
	// EditMessage returns ErrMessageNotFound or ErrNotAuthor without writing.
	EditMessage(ctx context.Context, id, authorID, text string, editedAt time.Time) error
	// ChatHistory returns up to limit messages, newest window first skipped by
	// offset, ordered oldest first.
	ChatHistory(ctx context.Context, limit, offset int) ([]*types.MessageView, error)
}

// Store is the full persistence surface.
type Store interface {
	IdentityStore
	TokenStore
	MessageStore
	HealthCheck(ctx context.Context) error
	Close() error
}
