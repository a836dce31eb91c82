package router

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"confeed/internal/hub"
	"confeed/internal/presence"
	"confeed/internal/websocket"
	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

type fakeConn struct {
	id, nickname string

	mu     sync.Mutex
	events []types.Event
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, v.(types.Event))
	return nil
}

func (c *fakeConn) Close() error          { return nil }
func (c *fakeConn) IsAuthenticated() bool { return true }
func (c *fakeConn) GetIdentityID() string { return c.id }
func (c *fakeConn) GetNickname() string   { return c.nickname }
func (c *fakeConn) GetAvatarURL() string  { return "" }

func (c *fakeConn) named(event string) []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Event
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) last(event string) (types.Event, bool) {
	events := c.named(event)
	if len(events) == 0 {
		return types.Event{}, false
	}
	return events[len(events)-1], true
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type memoryStore struct {
	mu         sync.Mutex
	identities map[string]*types.Identity
	messages   map[string]*types.ChatMessage
	failStore  bool
	failEdit   bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		identities: make(map[string]*types.Identity),
		messages:   make(map[string]*types.ChatMessage),
	}
}

func (s *memoryStore) addIdentity(id, nickname string, isAI bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id] = &types.Identity{ID: id, Nickname: nickname, IsAI: isAI}
}

func (s *memoryStore) StoreMessage(ctx context.Context, m *types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStore {
		return errors.New("database is locked")
	}
	if m.ReplyToID != nil {
		if _, ok := s.messages[*m.ReplyToID]; !ok {
			return interfaces.ErrMessageNotFound
		}
	}
	copied := *m
	s.messages[m.ID] = &copied
	return nil
}

func (s *memoryStore) GetMessageView(ctx context.Context, id string) (*types.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, interfaces.ErrMessageNotFound
	}
	author := s.identities[m.AuthorID]
	view := &types.MessageView{
		ID:        m.ID,
		UserID:    m.AuthorID,
		Nickname:  author.Nickname,
		IsAI:      author.IsAI,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
	if m.ReplyToID != nil {
		target := s.messages[*m.ReplyToID]
		view.ReplyTo = &types.ReplyRef{ID: target.ID, UserID: target.AuthorID, Text: target.Text}
	}
	return view, nil
}

func (s *memoryStore) EditMessage(ctx context.Context, id, authorID, text string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEdit {
		return errors.New("disk I/O error")
	}
	m, ok := s.messages[id]
	if !ok {
		return interfaces.ErrMessageNotFound
	}
	if m.AuthorID != authorID {
		return interfaces.ErrNotAuthor
	}
	m.Text = text
	m.EditedAt = &editedAt
	return nil
}

func (s *memoryStore) ChatHistory(ctx context.Context, limit, offset int) ([]*types.MessageView, error) {
	return nil, nil
}

func (s *memoryStore) message(id string) types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

type recordingResponder struct {
	mu        sync.Mutex
	offers    [][]types.ContextMessage
	triggers  []string
	cancelled []string
}

func (r *recordingResponder) Offer(triggerID string, recent []types.ContextMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, triggerID)
	r.offers = append(r.offers, recent)
	return true
}

func (r *recordingResponder) CancelPending(triggerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, triggerID)
}

type harness struct {
	t        *testing.T
	hub      *hub.Hub
	registry *websocket.Registry
	router   *Router
	store    *memoryStore
	now      time.Time
	nowMu    sync.Mutex
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		t:        t,
		registry: websocket.NewRegistry(),
		store:    newMemoryStore(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.hub = hub.NewHub(h.registry, nil)
	h.router = NewRouter(cfg, h.hub, h.registry, h.store,
		presence.NewTypingTracker(0, h.clock), presence.NewUnreadLedger(), h.clock)
	require.NoError(t, h.hub.Start(context.Background(), h.router))
	t.Cleanup(func() {
		h.router.Close()
		_ = h.hub.Stop()
	})
	return h
}

func (h *harness) clock() time.Time {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.nowMu.Lock()
	defer h.nowMu.Unlock()
	h.now = h.now.Add(d)
}

// settle waits for the loop, background persistence and the resumptions it
// posted.
func (h *harness) settle() {
	h.t.Helper()
	h.flush()
	h.router.wg.Wait()
	h.flush()
}

func (h *harness) flush() {
	h.t.Helper()
	done := make(chan struct{})
	require.NoError(h.t, h.hub.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		h.t.Fatal("hub loop did not drain")
	}
}

func (h *harness) connect(id, nickname string) *fakeConn {
	h.t.Helper()
	h.store.addIdentity(id, nickname, false)
	conn := &fakeConn{id: id, nickname: nickname}
	require.NoError(h.t, h.hub.RegisterConnection(conn))
	h.settle()
	return conn
}

func (h *harness) disconnect(conn *fakeConn) {
	h.t.Helper()
	require.NoError(h.t, h.hub.UnregisterConnection(conn))
	h.settle()
}

func (h *harness) emit(conn *fakeConn, event string, data string) {
	h.t.Helper()
	env := &types.Envelope{Event: event}
	if data != "" {
		env.Data = []byte(data)
	}
	require.NoError(h.t, h.hub.Dispatch(conn, env))
	h.settle()
}

func resetAll(conns ...*fakeConn) {
	for _, c := range conns {
		c.reset()
	}
}

func participantIDs(list []types.Participant) []string {
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}
