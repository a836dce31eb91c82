package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

// NicknamePrefix is shared by human and synthetic anonymous identities.
const NicknamePrefix = "anonimo#"

const (
	sequentialAttempts = 100
	randomAttempts     = 20
)

// DefaultTokenTTL is the lifetime of an issued bearer token.
const DefaultTokenTTL = 720 * time.Hour

// Metadata is optional client-reported information attached at login.
type Metadata struct {
	AvatarURL string `json:"avatarUrl,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Language  string `json:"language,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Country   string `json:"country,omitempty"`
}

// LoginResult is returned by Login.
type LoginResult struct {
	Token   string          `json:"token"`
	User    *types.Identity `json:"user"`
	Created bool            `json:"-"`
}

// Manager issues and verifies anonymous bearer tokens. Resolved identities
// are cached by id.
type Manager struct {
	identities interfaces.IdentityStore
	tokens     interfaces.TokenStore
	ttl        time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]*types.Identity
}

// NewManager creates a session manager. A non-positive ttl uses
// DefaultTokenTTL and a nil now uses time.Now.
func NewManager(identities interfaces.IdentityStore, tokens interfaces.TokenStore, ttl time.Duration, now func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		identities: identities,
		tokens:     tokens,
		ttl:        ttl,
		now:        now,
		cache:      make(map[string]*types.Identity),
	}
}

// Login returns the identity behind token when it is valid, refreshing any
// metadata the client supplied. Otherwise it creates a new anonymous identity.
// A fresh token is issued either way.
func (m *Manager) Login(ctx context.Context, token string, meta Metadata) (*LoginResult, error) {
	var identity *types.Identity
	created := false

	if token != "" {
		existing, err := m.Authenticate(ctx, token)
		switch {
		case err == nil:
			identity, err = m.refresh(ctx, existing, meta)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, ErrInvalidToken):
			slog.Debug("login with stale token, creating identity")
		default:
			return nil, err
		}
	}

	if identity == nil {
		var err error
		identity, err = m.create(ctx, meta)
		if err != nil {
			return nil, err
		}
		created = true
	}

	issued := uuid.NewString()
	if err := m.tokens.StoreToken(ctx, issued, identity.ID, m.now().Add(m.ttl)); err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	if created {
		slog.Info("identity created", "identity", identity.ID, "nickname", identity.Nickname)
	}
	return &LoginResult{Token: issued, User: identity, Created: created}, nil
}

// Authenticate resolves token to its identity. Unknown, expired and orphaned
// tokens all fail with ErrInvalidToken.
func (m *Manager) Authenticate(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	id, err := m.tokens.LookupToken(ctx, token, m.now())
	if err != nil {
		if errors.Is(err, interfaces.ErrTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	identity, err := m.Identity(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrIdentityNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return identity, nil
}

// Identity loads an identity through the cache.
func (m *Manager) Identity(ctx context.Context, id string) (*types.Identity, error) {
	m.mu.RLock()
	cached, ok := m.cache[id]
	m.mu.RUnlock()
	if ok {
		copied := *cached
		return &copied, nil
	}

	identity, err := m.identities.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	m.store(identity)
	copied := *identity
	return &copied, nil
}

// Forget drops id from the cache.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
}

func (m *Manager) store(identity *types.Identity) {
	copied := *identity
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[identity.ID] = &copied
}

func (m *Manager) refresh(ctx context.Context, identity *types.Identity, meta Metadata) (*types.Identity, error) {
	if !applyMetadata(identity, meta) {
		return identity, nil
	}
	identity.UpdatedAt = m.now()
	if err := m.identities.UpdateIdentityMetadata(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to refresh identity: %w", err)
	}
	m.store(identity)
	return identity, nil
}

// applyMetadata copies the non-empty fields that differ and reports whether
// anything changed.
func applyMetadata(identity *types.Identity, meta Metadata) bool {
	changed := false
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && v != *dst {
			*dst = v
			changed = true
		}
	}
	set(&identity.AvatarURL, meta.AvatarURL)
	set(&identity.Platform, meta.Platform)
	set(&identity.Language, meta.Language)
	set(&identity.Timezone, meta.Timezone)
	set(&identity.Country, meta.Country)
	return changed
}

func (m *Manager) create(ctx context.Context, meta Metadata) (*types.Identity, error) {
	count, err := m.identities.CountIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count identities: %w", err)
	}

	now := m.now()
	identity := &types.Identity{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyMetadata(identity, meta)

	try := func(nickname string) (bool, error) {
		identity.Nickname = nickname
		err := m.identities.CreateIdentity(ctx, identity)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, interfaces.ErrNicknameTaken):
			return false, nil
		default:
			return false, fmt.Errorf("failed to create identity: %w", err)
		}
	}

	for i := 0; i < sequentialAttempts; i++ {
		ok, err := try(fmt.Sprintf("%s%d", NicknamePrefix, count+1+i))
		if err != nil {
			return nil, err
		}
		if ok {
			m.store(identity)
			return identity, nil
		}
	}
	for i := 0; i < randomAttempts; i++ {
		ok, err := try(fmt.Sprintf("%s%d", NicknamePrefix, 1000+rand.IntN(9000)))
		if err != nil {
			return nil, err
		}
		if ok {
			m.store(identity)
			return identity, nil
		}
	}
	return nil, ErrNicknameExhausted
}

var _ interfaces.Authenticator = (*Manager)(nil)
