package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"confeed/pkg/interfaces"
	"confeed/pkg/llm"
	"confeed/pkg/types"
)

const maxNicknameAttempts = 50

// Config holds the pool's timing and probability knobs.
type Config struct {
	ReuseProbability float64
	ReuseCooldown    time.Duration
	IdleEviction     time.Duration
	ResponseCooldown time.Duration
	MemorySize       int
	ContextWindow    int
	ReplyCandidates  int
	ReplyProbability float64
	MaxReplyLength   int
	TypingDelayMin   time.Duration
	TypingDelayMax   time.Duration
	// TypingRefresh re-announces typing during the delay so the entry outlives
	// the tracker's expiry. Zero disables it.
	TypingRefresh    time.Duration
	MaxContextTokens int
}

// DefaultConfig returns the production pool settings.
func DefaultConfig() Config {
	return Config{
		ReuseProbability: 0.8,
		ReuseCooldown:    10 * time.Second,
		IdleEviction:     30 * time.Minute,
		ResponseCooldown: 15 * time.Second,
		MemorySize:       10,
		ContextWindow:    8,
		ReplyCandidates:  3,
		ReplyProbability: 0.4,
		MaxReplyLength:   500,
		TypingDelayMin:   2 * time.Second,
		TypingDelayMax:   4 * time.Second,
		TypingRefresh:    1500 * time.Millisecond,
	}
}

// Rand is the randomness source of the pool. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// Profile is a synthetic participant currently held by the pool.
type Profile struct {
	IdentityID  string
	Nickname    string
	AvatarURL   string
	Personality Personality
	LastUsed    time.Time
}

// Participant returns the presence view of the profile.
func (p Profile) Participant() types.Participant {
	return types.Participant{
		ID:        p.IdentityID,
		Nickname:  p.Nickname,
		AvatarURL: p.AvatarURL,
		IsAI:      true,
	}
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithRand replaces the global random source.
func WithRand(r Rand) Option {
	return func(p *Pool) { p.rng = r }
}

// WithTokenCounter enables the prompt token budget.
func WithTokenCounter(c TokenCounter) Option {
	return func(p *Pool) { p.counter = c }
}

// Pool manages synthetic participants: profile reuse and eviction, the
// response policy, synthesis and delayed delivery.
type Pool struct {
	cfg      Config
	store    interfaces.IdentityStore
	provider llm.Provider
	counter  TokenCounter
	now      func() time.Time

	rngMu sync.Mutex
	rng   Rand

	mu           sync.Mutex
	profiles     map[string]*Profile
	order        []string
	memory       map[string][]string
	lastResponse time.Time

	// one synthesis pool-wide
	slot *semaphore.Weighted
	busy atomic.Bool

	sink        Sink
	ctx         context.Context
	cancel      context.CancelFunc
	pendingMu   sync.Mutex
	pending     map[string]map[uint64]context.CancelFunc
	nextPending uint64
	closed      bool
	wg          sync.WaitGroup
}

// NewPool creates a pool that persists new synthetic identities through store
// and generates text through provider.
func NewPool(cfg Config, store interfaces.IdentityStore, provider llm.Provider, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:      cfg,
		store:    store,
		provider: provider,
		now:      time.Now,
		rng:      globalRand{},
		profiles: make(map[string]*Profile),
		memory:   make(map[string][]string),
		slot:     semaphore.NewWeighted(1),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) float64() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}

func (p *Pool) intn(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.IntN(n)
}

// AcquireProfile picks the synthetic identity for the next reply. With
// ReuseProbability it reuses a random profile idle for longer than
// ReuseCooldown; otherwise, or when none qualifies, it creates a new one.
// The chosen profile's LastUsed is set to now.
func (p *Pool) AcquireProfile(ctx context.Context) (Profile, bool, error) {
	if profile, ok := p.reuseProfile(); ok {
		return profile, false, nil
	}
	profile, err := p.createProfile(ctx)
	if err != nil {
		return Profile{}, false, err
	}
	return profile, true, nil
}

func (p *Pool) reuseProfile() (Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return Profile{}, false
	}
	if p.float64() >= p.cfg.ReuseProbability {
		return Profile{}, false
	}

	now := p.now()
	eligible := make([]*Profile, 0, len(p.order))
	for _, id := range p.order {
		profile := p.profiles[id]
		if now.Sub(profile.LastUsed) > p.cfg.ReuseCooldown {
			eligible = append(eligible, profile)
		}
	}
	if len(eligible) == 0 {
		return Profile{}, false
	}

	chosen := eligible[p.intn(len(eligible))]
	chosen.LastUsed = now
	return *chosen, true
}

func (p *Pool) createProfile(ctx context.Context) (Profile, error) {
	for attempt := 0; attempt < maxNicknameAttempts; attempt++ {
		personality := Personalities[p.intn(len(Personalities))]
		now := p.now()
		identity := &types.Identity{
			ID:            uuid.NewString(),
			Nickname:      fmt.Sprintf("anonimo#%d", 1000+p.intn(9000)),
			AvatarURL:     Avatars[p.intn(len(Avatars))],
			IsAI:          true,
			AIPersonality: personality.Key,
			Platform:      "AI",
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		err := p.store.CreateIdentity(ctx, identity)
		if errors.Is(err, interfaces.ErrNicknameTaken) {
			slog.Debug("synthetic nickname collision", "nickname", identity.Nickname)
			continue
		}
		if err != nil {
			return Profile{}, fmt.Errorf("failed to create synthetic identity: %w", err)
		}

		profile := &Profile{
			IdentityID:  identity.ID,
			Nickname:    identity.Nickname,
			AvatarURL:   identity.AvatarURL,
			Personality: personality,
			LastUsed:    p.now(),
		}
		p.mu.Lock()
		p.profiles[profile.IdentityID] = profile
		p.order = append(p.order, profile.IdentityID)
		p.mu.Unlock()

		slog.Info("synthetic profile created",
			"identity", profile.IdentityID,
			"nickname", profile.Nickname,
			"personality", personality.Key)
		return *profile, nil
	}
	return Profile{}, ErrNicknameExhausted
}

// ActiveProfiles returns the non-evicted profiles in creation order.
func (p *Pool) ActiveProfiles() []types.Participant {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := make([]types.Participant, 0, len(p.order))
	for _, id := range p.order {
		list = append(list, p.profiles[id].Participant())
	}
	return list
}

// Profile returns a copy of the profile for identityID.
func (p *Pool) Profile(identityID string) (Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, ok := p.profiles[identityID]
	if !ok {
		return Profile{}, false
	}
	return *profile, true
}

// Sweep evicts profiles unused for longer than IdleEviction together with
// their memory. It returns the evicted identity ids.
func (p *Pool) Sweep() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var evicted []string
	kept := p.order[:0]
	for _, id := range p.order {
		if now.Sub(p.profiles[id].LastUsed) > p.cfg.IdleEviction {
			delete(p.profiles, id)
			delete(p.memory, id)
			evicted = append(evicted, id)
			continue
		}
		kept = append(kept, id)
	}
	p.order = kept
	return evicted
}

// Memory returns the topics remembered for identityID, oldest first.
func (p *Pool) Memory(identityID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.memory[identityID]...)
}

func (p *Pool) remember(identityID, topic string) {
	if topic == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.profiles[identityID]; !ok {
		return
	}
	topics := append(p.memory[identityID], topic)
	if over := len(topics) - p.cfg.MemorySize; over > 0 {
		topics = topics[over:]
	}
	p.memory[identityID] = topics
}

// Busy reports whether a synthesis is in flight.
func (p *Pool) Busy() bool {
	return p.busy.Load()
}

// CooldownElapsed reports whether ResponseCooldown has passed since the last
// synthesized response.
func (p *Pool) CooldownElapsed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastResponse.IsZero() || p.now().Sub(p.lastResponse) >= p.cfg.ResponseCooldown
}

func (p *Pool) markResponded() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastResponse = p.now()
}
