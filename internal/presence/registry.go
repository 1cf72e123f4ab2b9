package presence

import (
	"sort"
	"strings"
	"sync"
)

// Registry tracks which users currently hold at least one open connection.
// Presence is reference-counted per user: a user with two concurrent
// connections stays online until the last one closes, so an out-of-order
// disconnect for one connection cannot erase presence established by the
// other. State is process-local and resets on restart.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]int // userID -> open connection count
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]int)}
}

// MarkOnline records one more open connection for userID and returns the
// online snapshot after the change. The first connection for a user brings
// them online; repeats only bump the count.
func (r *Registry) MarkOnline(userID string) []string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return r.Snapshot()
	}
	r.mu.Lock()
	r.conns[userID]++
	snap := r.snapshotLocked()
	r.mu.Unlock()
	return snap
}

// MarkOffline records one connection closing for userID and returns the
// online snapshot after the change. The user goes offline only when their
// last connection closes; a disconnect for an unknown user is a no-op.
func (r *Registry) MarkOffline(userID string) []string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return r.Snapshot()
	}
	r.mu.Lock()
	if n, ok := r.conns[userID]; ok {
		if n <= 1 {
			delete(r.conns, userID)
		} else {
			r.conns[userID] = n - 1
		}
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()
	return snap
}

// Online reports whether userID currently has an open connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[strings.TrimSpace(userID)] > 0
}

// Snapshot returns the sorted set of online user ids.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
