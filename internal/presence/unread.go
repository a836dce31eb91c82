package presence

import "sync"

// UnreadUpdate is a new unread count to push privately to one identity.
type UnreadUpdate struct {
	IdentityID string
	Count      int
}

// UnreadLedger counts messages each identity missed while away from the chat
// surface. Absent counters read as zero.
type UnreadLedger struct {
	mu      sync.Mutex
	counts  map[string]int
	viewing map[string]struct{}
}

// NewUnreadLedger creates an empty ledger.
func NewUnreadLedger() *UnreadLedger {
	return &UnreadLedger{
		counts:  make(map[string]int),
		viewing: make(map[string]struct{}),
	}
}

// MarkViewing resets the counter to zero and flags the identity as viewing.
// The caller pushes the zero count to that identity only.
func (l *UnreadLedger) MarkViewing(identityID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.counts, identityID)
	l.viewing[identityID] = struct{}{}
	return 0
}

// MarkAway clears the viewing flag; the counter resumes on the next message.
func (l *UnreadLedger) MarkAway(identityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.viewing, identityID)
}

// Viewers returns the set of identities currently viewing.
func (l *UnreadLedger) Viewers() map[string]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]struct{}, len(l.viewing))
	for id := range l.viewing {
		out[id] = struct{}{}
	}
	return out
}

// IsViewing reports whether the identity is flagged as viewing.
func (l *UnreadLedger) IsViewing(identityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.viewing[identityID]
	return ok
}

// Count returns the current counter for identityID.
func (l *UnreadLedger) Count(identityID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[identityID]
}

// RecordDelivery increments the counter of every identity in all that is
// neither the author nor in activeViewers, and returns the new counts.
// Duplicate ids in all are credited once.
func (l *UnreadLedger) RecordDelivery(authorID string, activeViewers map[string]struct{}, all []string) []UnreadUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(all))
	updates := make([]UnreadUpdate, 0, len(all))
	for _, id := range all {
		if id == authorID {
			continue
		}
		if _, ok := activeViewers[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		l.counts[id]++
		updates = append(updates, UnreadUpdate{IdentityID: id, Count: l.counts[id]})
	}
	return updates
}
