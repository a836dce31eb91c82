package ai

import (
	"context"
	"errors"
	"sync"
	"time"

	"confeed/pkg/interfaces"
	"confeed/pkg/llm"
	"confeed/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRand returns a fixed float and a cycling int sequence.
type fakeRand struct {
	mu    sync.Mutex
	float float64
	n     int
}

func (r *fakeRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.float
}

func (r *fakeRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return r.n % n
}

func (r *fakeRand) set(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.float = f
}

type memoryIdentityStore struct {
	mu         sync.Mutex
	identities map[string]*types.Identity
	nicknames  map[string]bool
	failWith   error
}

func newMemoryIdentityStore() *memoryIdentityStore {
	return &memoryIdentityStore{
		identities: make(map[string]*types.Identity),
		nicknames:  make(map[string]bool),
	}
}

func (s *memoryIdentityStore) CreateIdentity(ctx context.Context, identity *types.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if s.nicknames[identity.Nickname] {
		return interfaces.ErrNicknameTaken
	}
	copied := *identity
	s.identities[identity.ID] = &copied
	s.nicknames[identity.Nickname] = true
	return nil
}

func (s *memoryIdentityStore) GetIdentity(ctx context.Context, id string) (*types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, interfaces.ErrIdentityNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *memoryIdentityStore) UpdateIdentityMetadata(ctx context.Context, identity *types.Identity) error {
	return nil
}

func (s *memoryIdentityStore) CountIdentities(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities), nil
}

func (s *memoryIdentityStore) reserve(nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nicknames[nickname] = true
}

func staticProvider(text string) llm.Provider {
	return llm.ProviderFunc(func(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
		return &llm.Response{Content: text}, nil
	})
}

var errGeneration = errors.New("quota exceeded")

func human(id, author, nickname, text string) types.ContextMessage {
	return types.ContextMessage{ID: id, AuthorID: author, Nickname: nickname, Text: text}
}

func bot(id, author, text string) types.ContextMessage {
	return types.ContextMessage{ID: id, AuthorID: author, Nickname: "anonimo#4242", Text: text, IsAI: true}
}

type testPool struct {
	*Pool
	clock *fakeClock
	rng   *fakeRand
	store *memoryIdentityStore
}

func newTestPool(provider llm.Provider, mutate func(*Config)) *testPool {
	cfg := DefaultConfig()
	cfg.TypingDelayMin = time.Millisecond
	cfg.TypingDelayMax = 2 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	clock := newFakeClock()
	rng := &fakeRand{float: 0.1}
	store := newMemoryIdentityStore()
	return &testPool{
		Pool:  NewPool(cfg, store, provider, WithClock(clock.Now), WithRand(rng)),
		clock: clock,
		rng:   rng,
		store: store,
	}
}
