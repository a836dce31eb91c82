package hub

import (
	"context"
	"log/slog"
	"sync"

	"confeed/internal/websocket"
	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

// AIRoster lists the synthetic participants that count as present.
type AIRoster interface {
	ActiveProfiles() []types.Participant
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventInbound
	eventUnregister
)

// connEvent travels on one channel so a connection's admission, frames and
// removal are handled in the order they happened.
type connEvent struct {
	kind eventKind
	conn interfaces.Connection
	env  *types.Envelope
}

// Hub is the single logical event loop. Connection lifecycle, inbound frames
// and resumptions posted through Submit are processed one at a time on the
// loop goroutine; emission is fire-and-forget.
type Hub struct {
	eventChannel    chan connEvent
	taskChannel     chan func()
	shutdownChannel chan struct{}
	done            chan struct{}

	registry   *websocket.Registry
	roster     AIRoster
	dispatcher interfaces.Dispatcher

	roomsMu     sync.RWMutex
	rooms       map[string]map[string]struct{}
	memberships map[string]map[string]struct{}

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over registry. roster may be nil when no synthetic
// participants exist.
func NewHub(registry *websocket.Registry, roster AIRoster) *Hub {
	return &Hub{
		eventChannel:    make(chan connEvent, 1000),
		taskChannel:     make(chan func(), 1000),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		registry:        registry,
		roster:          roster,
		rooms:           make(map[string]map[string]struct{}),
		memberships:     make(map[string]map[string]struct{}),
	}
}

// SetRoster installs the synthetic participant roster.
func (h *Hub) SetRoster(roster AIRoster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roster = roster
}

// Start runs the loop, handing lifecycle and inbound events to dispatcher.
func (h *Hub) Start(ctx context.Context, dispatcher interfaces.Dispatcher) error {
	if dispatcher == nil {
		return ErrNilDispatcher
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.dispatcher = dispatcher
	h.mu.Unlock()

	slog.Info("starting hub")
	go h.run(ctx)
	return nil
}

// Stop ends the loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	<-h.done
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// RegisterConnection queues an authenticated connection for admission.
func (h *Hub) RegisterConnection(conn interfaces.Connection) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.eventChannel <- connEvent{kind: eventRegister, conn: conn}:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// UnregisterConnection queues a closed connection for cleanup. It blocks
// until the loop accepts it or the hub stops, so a disconnect is never lost.
func (h *Hub) UnregisterConnection(conn interfaces.Connection) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.eventChannel <- connEvent{kind: eventUnregister, conn: conn}:
		return nil
	case <-h.done:
		return ErrHubNotRunning
	}
}

// Dispatch queues an inbound frame from conn.
func (h *Hub) Dispatch(conn interfaces.Connection, env *types.Envelope) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.eventChannel <- connEvent{kind: eventInbound, conn: conn, env: env}:
		return nil
	default:
		return ErrEventChannelFull
	}
}

// Submit schedules fn on the loop. Work that completed off-loop (persistence,
// generation) resumes through here.
func (h *Hub) Submit(fn func()) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.taskChannel <- fn:
		return nil
	default:
		return ErrTaskChannelFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer slog.Info("hub stopped")

	for {
		select {
		case ev := <-h.eventChannel:
			switch ev.kind {
			case eventRegister:
				h.handleRegistration(ctx, ev.conn)
			case eventInbound:
				h.handleInbound(ctx, ev)
			case eventUnregister:
				h.handleDeregistration(ctx, ev.conn)
			}

		case fn := <-h.taskChannel:
			fn()

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handleInbound(ctx context.Context, ev connEvent) {
	current, ok := h.registry.Get(ev.conn.GetIdentityID())
	if !ok || current != ev.conn {
		slog.Debug("event from replaced connection dropped",
			"identity", ev.conn.GetIdentityID(), "event", ev.env.Event)
		return
	}
	h.dispatcher.Dispatch(ctx, ev.conn, ev.env)
}

func (h *Hub) handleRegistration(ctx context.Context, conn interfaces.Connection) {
	if conn == nil {
		return
	}
	identityID := conn.GetIdentityID()

	replaced, err := h.registry.Admit(identityID, conn, conn.GetNickname(), conn.GetAvatarURL())
	if err != nil {
		slog.Warn("connection admission failed", "identity", identityID, "error", err)
		_ = conn.Close()
		return
	}
	if replaced != nil {
		slog.Debug("session replaced", "identity", identityID)
	}

	h.Join(identityID, types.GlobalRoom)
	slog.Info("connection admitted", "identity", identityID)
	h.dispatcher.Connected(ctx, conn)
}

func (h *Hub) handleDeregistration(ctx context.Context, conn interfaces.Connection) {
	if !h.registry.RemoveConnection(conn) {
		return
	}
	identityID := conn.GetIdentityID()
	h.leaveAll(identityID)
	slog.Info("connection removed", "identity", identityID)
	h.dispatcher.Disconnected(ctx, conn)
}

// Join adds identityID to room.
func (h *Hub) Join(identityID, room string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][identityID] = struct{}{}
	if h.memberships[identityID] == nil {
		h.memberships[identityID] = make(map[string]struct{})
	}
	h.memberships[identityID][room] = struct{}{}
}

// Leave removes identityID from room.
func (h *Hub) Leave(identityID, room string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	h.leaveLocked(identityID, room)
}

func (h *Hub) leaveLocked(identityID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, identityID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberships[identityID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.memberships, identityID)
		}
	}
}

func (h *Hub) leaveAll(identityID string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	for room := range h.memberships[identityID] {
		h.leaveLocked(identityID, room)
	}
}

// Members returns the identities in room.
func (h *Hub) Members(room string) []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()

	members := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	return members
}

// InRoom reports whether identityID is a member of room.
func (h *Hub) InRoom(identityID, room string) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	_, ok := h.rooms[room][identityID]
	return ok
}

// EmitToRoom sends the event to every live member of room.
func (h *Hub) EmitToRoom(room, event string, payload interface{}) {
	for _, id := range h.Members(room) {
		h.EmitToIdentity(id, event, payload)
	}
}

// EmitToIdentity sends the event to identityID's live session, if any.
func (h *Hub) EmitToIdentity(identityID, event string, payload interface{}) {
	conn, ok := h.registry.Get(identityID)
	if !ok {
		return
	}
	if err := conn.WriteJSON(types.Event{Event: event, Data: payload}); err != nil {
		slog.Debug("emit dropped", "identity", identityID, "event", event, "error", err)
	}
}

// EmitToAll sends the event to every live session.
func (h *Hub) EmitToAll(event string, payload interface{}) {
	for _, id := range h.registry.IDs() {
		h.EmitToIdentity(id, event, payload)
	}
}

// SnapshotPresence combines live sessions with active synthetic profiles.
func (h *Hub) SnapshotPresence() types.Presence {
	list := h.registry.ListActive()

	h.mu.RLock()
	roster := h.roster
	h.mu.RUnlock()
	if roster != nil {
		list = append(list, roster.ActiveProfiles()...)
	}
	return types.Presence{Count: len(list), List: list}
}

// GetStats returns loop and registry statistics for monitoring.
func (h *Hub) GetStats() map[string]int {
	stats := h.registry.GetStats()
	stats["event_queue"] = len(h.eventChannel)
	stats["task_queue"] = len(h.taskChannel)

	h.roomsMu.RLock()
	stats["rooms"] = len(h.rooms)
	h.roomsMu.RUnlock()
	return stats
}
