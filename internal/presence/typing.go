package presence

import (
	"sync"
	"time"
)

// DefaultTypingTimeout is how long a typing signal stays valid without refresh.
const DefaultTypingTimeout = 3000 * time.Millisecond

type typingEntry struct {
	identityID  string
	displayName string
	lastSignal  time.Time
}

// TypingTracker records who is composing a message. Entries expire lazily:
// ActiveTypists drops stale entries from the underlying state.
type TypingTracker struct {
	mu      sync.Mutex
	timeout time.Duration
	now     func() time.Time
	entries map[string]*typingEntry
	order   []string
}

// NewTypingTracker creates a tracker. A non-positive timeout uses
// DefaultTypingTimeout; a nil clock uses time.Now.
func NewTypingTracker(timeout time.Duration, now func() time.Time) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{
		timeout: timeout,
		now:     now,
		entries: make(map[string]*typingEntry),
	}
}

// SetTyping upserts the entry for identityID. A refresh keeps the entry's
// position in the active list.
func (t *TypingTracker) SetTyping(identityID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[identityID]; ok {
		entry.displayName = displayName
		entry.lastSignal = t.now()
		return
	}
	t.entries[identityID] = &typingEntry{
		identityID:  identityID,
		displayName: displayName,
		lastSignal:  t.now(),
	}
	t.order = append(t.order, identityID)
}

// ClearTyping removes the entry for identityID. It reports whether an entry
// existed.
func (t *TypingTracker) ClearTyping(identityID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[identityID]; !ok {
		return false
	}
	delete(t.entries, identityID)
	t.removeFromOrder(identityID)
	return true
}

// ActiveTypists returns display names of non-stale entries in insertion order.
// An entry is stale once now - lastSignal > timeout; stale entries are deleted.
func (t *TypingTracker) ActiveTypists() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	names := make([]string, 0, len(t.order))
	kept := t.order[:0]
	for _, id := range t.order {
		entry := t.entries[id]
		if now.Sub(entry.lastSignal) > t.timeout {
			delete(t.entries, id)
			continue
		}
		kept = append(kept, id)
		names = append(names, entry.displayName)
	}
	t.order = kept
	return names
}

// Len returns the number of stored entries, stale or not.
func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *TypingTracker) removeFromOrder(identityID string) {
	for i, id := range t.order {
		if id == identityID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
