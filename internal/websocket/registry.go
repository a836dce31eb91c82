package websocket

import (
	"sync"

	"confeed/pkg/interfaces"
	"confeed/pkg/types"
)

type session struct {
	identityID string
	nickname   string
	avatarURL  string
	conn       interfaces.Connection
}

// Registry is the set of live sessions keyed by identity. One identity has at
// most one session; admitting again replaces it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
	}
}

// Admit records the session for identityID, overwriting any previous one, and
// returns the connection it replaced. The replaced connection is not closed.
// An overwrite moves the identity to the end of the listing.
func (r *Registry) Admit(identityID string, conn interfaces.Connection, nickname, avatarURL string) (interfaces.Connection, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return nil, ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var replaced interfaces.Connection
	if existing, ok := r.sessions[identityID]; ok {
		replaced = existing.conn
		r.removeFromOrder(identityID)
	}
	r.sessions[identityID] = &session{
		identityID: identityID,
		nickname:   nickname,
		avatarURL:  avatarURL,
		conn:       conn,
	}
	r.order = append(r.order, identityID)
	return replaced, nil
}

// Remove deletes the session for identityID. No-op if absent.
func (r *Registry) Remove(identityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[identityID]; !ok {
		return
	}
	delete(r.sessions, identityID)
	r.removeFromOrder(identityID)
}

// RemoveConnection deletes the session only if conn is the currently admitted
// connection of its identity, so a stale connection closing late cannot evict
// its replacement. It reports whether a session was removed.
func (r *Registry) RemoveConnection(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}
	identityID := conn.GetIdentityID()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[identityID]
	if !ok || current.conn != conn {
		return false
	}
	delete(r.sessions, identityID)
	r.removeFromOrder(identityID)
	return true
}

// ListActive returns a snapshot of live sessions in admission order.
func (r *Registry) ListActive() []types.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]types.Participant, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		list = append(list, types.Participant{
			ID:        s.identityID,
			Nickname:  s.nickname,
			AvatarURL: s.avatarURL,
		})
	}
	return list
}

// IDs returns the live identity ids in admission order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// IsActive reports whether identityID has a live session.
func (r *Registry) IsActive(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.sessions[identityID]
	return ok
}

// Get returns the live connection for identityID.
func (r *Registry) Get(identityID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[identityID]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetStats returns registry statistics for monitoring.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.sessions),
	}
}

func (r *Registry) removeFromOrder(identityID string) {
	for i, id := range r.order {
		if id == identityID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
