package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"confeed/internal/presence"
	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

// Broadcaster is the part of the hub the router emits through.
type Broadcaster interface {
	EmitToRoom(room, event string, payload interface{})
	EmitToIdentity(identityID, event string, payload interface{})
	SnapshotPresence() types.Presence
	Submit(fn func()) error
}

// Sessions is the read side of the session registry.
type Sessions interface {
	ListActive() []types.Participant
	IDs() []string
}

// Responder is the AI pool as the router sees it.
type Responder interface {
	Offer(triggerID string, recent []types.ContextMessage) bool
	CancelPending(triggerID string)
}

// Config holds router limits.
type Config struct {
	MaxMessageLength   int
	RateLimitPerMinute int
	ContextWindow      int
	PersistTimeout     time.Duration
}

// DefaultConfig returns the production router limits.
func DefaultConfig() Config {
	return Config{
		MaxMessageLength:   2000,
		RateLimitPerMinute: 100,
		ContextWindow:      20,
		PersistTimeout:     10 * time.Second,
	}
}

// Router implements interfaces.Dispatcher for the chat events. Dispatch,
// Connected and Disconnected run on the hub loop; persistence runs in the
// background and resumes on the loop through Broadcaster.Submit.
type Router struct {
	cfg      Config
	hub      Broadcaster
	sessions Sessions
	store    interfaces.MessageStore
	typing   *presence.TypingTracker
	unread   *presence.UnreadLedger
	limiter  *RateLimiter
	now      func() time.Time

	responder Responder

	recentMu sync.Mutex
	recent   []types.ContextMessage
	seq      map[string]uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter creates a router. now may be nil.
func NewRouter(cfg Config, hub Broadcaster, sessions Sessions, store interfaces.MessageStore,
	typing *presence.TypingTracker, unread *presence.UnreadLedger, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultConfig().PersistTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:      cfg,
		hub:      hub,
		sessions: sessions,
		store:    store,
		typing:   typing,
		unread:   unread,
		limiter:  NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, now),
		now:      now,
		seq:      make(map[string]uint64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetResponder installs the AI pool. Nil disables synthetic replies.
func (r *Router) SetResponder(responder Responder) {
	r.responder = responder
}

// RateLimiter exposes the send limiter for periodic cleanup.
func (r *Router) RateLimiter() *RateLimiter {
	return r.limiter
}

// Close cancels in-flight persistence and waits for it to finish.
func (r *Router) Close() {
	r.cancel()
	r.wg.Wait()
}

// Connected announces a new session: presence to the room, typing status and
// the unread count to the newcomer.
func (r *Router) Connected(ctx context.Context, conn interfaces.Connection) {
	id := conn.GetIdentityID()
	r.broadcastPresence()
	r.hub.EmitToIdentity(id, types.EventTypingStatus, types.TypingStatusPayload{Users: r.typing.ActiveTypists()})
	r.hub.EmitToIdentity(id, types.EventUnread, types.UnreadPayload{Count: r.unread.Count(id)})
}

// Disconnected drops the identity's viewing flag, typing entry and pending AI
// replies, then rebroadcasts presence and typing status.
func (r *Router) Disconnected(ctx context.Context, conn interfaces.Connection) {
	id := conn.GetIdentityID()
	r.unread.MarkAway(id)
	r.typing.ClearTyping(id)
	if r.responder != nil {
		r.responder.CancelPending(id)
	}
	r.broadcastPresence()
	r.broadcastTyping()
}

// Dispatch handles one inbound event.
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	id := conn.GetIdentityID()

	switch env.Event {
	case types.EventJoin, types.EventMarkRead:
		r.unread.MarkViewing(id)
		r.hub.EmitToIdentity(id, types.EventUnread, types.UnreadPayload{Count: 0})

	case types.EventLeave:
		r.unread.MarkAway(id)

	case types.EventTyping:
		r.typing.SetTyping(id, conn.GetNickname())
		r.broadcastTyping()

	case types.EventStopTyping:
		r.typing.ClearTyping(id)
		r.broadcastTyping()

	case types.EventPresenceGet:
		p := r.hub.SnapshotPresence()
		r.hub.EmitToIdentity(id, types.EventPresenceCount, types.CountPayload{Count: p.Count})
		r.hub.EmitToIdentity(id, types.EventPresenceList, types.ListPayload{Users: p.List})

	case types.EventSend:
		r.handleSend(conn, env.Data)

	case types.EventEdit:
		r.handleEdit(conn, env.Data)

	default:
		slog.Debug("unknown event dropped", "identity", id, "event", env.Event)
	}
}

// BroadcastPresence emits presence to the global room. Safe to call from any
// goroutine.
func (r *Router) BroadcastPresence() {
	r.submit(r.broadcastPresence)
}

func (r *Router) broadcastPresence() {
	p := r.hub.SnapshotPresence()
	r.hub.EmitToRoom(types.GlobalRoom, types.EventPresenceCount, types.CountPayload{Count: p.Count})
	r.hub.EmitToRoom(types.GlobalRoom, types.EventPresenceList, types.ListPayload{Users: p.List})
}

func (r *Router) broadcastTyping() {
	r.hub.EmitToRoom(types.GlobalRoom, types.EventTypingStatus, types.TypingStatusPayload{Users: r.typing.ActiveTypists()})
}

func (r *Router) emitError(identityID, code, message string) {
	r.hub.EmitToIdentity(identityID, types.EventError, types.ErrorPayload{Code: code, Message: message})
}

// submit posts fn to the hub loop.
func (r *Router) submit(fn func()) {
	if err := r.hub.Submit(fn); err != nil {
		slog.Warn("loop resumption dropped", "error", err)
	}
}

func (r *Router) nextSeq(room string) uint64 {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	r.seq[room]++
	return r.seq[room]
}

// SeedContext loads persisted messages, oldest first, into the AI context.
func (r *Router) SeedContext(views []*types.MessageView) {
	for _, v := range views {
		r.remember(types.ContextOf(v))
	}
}

// RecentContext returns the conversation window offered to the AI pool.
func (r *Router) RecentContext() []types.ContextMessage {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	return append([]types.ContextMessage(nil), r.recent...)
}

func (r *Router) remember(m types.ContextMessage) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()

	r.recent = append(r.recent, m)
	if over := len(r.recent) - r.cfg.ContextWindow; r.cfg.ContextWindow > 0 && over > 0 {
		r.recent = append([]types.ContextMessage(nil), r.recent[over:]...)
	}
}

func (r *Router) rememberEdit(id, text string) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()

	for i := range r.recent {
		if r.recent[i].ID == id {
			r.recent[i].Text = text
			return
		}
	}
}
