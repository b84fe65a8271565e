package presence

import (
	"context"
	"log"
	"sort"
	"strconv"
	"sync"

	"realtime-chat/internal/cache"
)

const onlineSetKey = "online_users"

// Registry tracks which users currently have a live connection. One entry
// per user: a second connection overwrites the first (last writer wins).
type Registry interface {
	MarkOnline(ctx context.Context, userID int, connID string)
	MarkOffline(ctx context.Context, userID int, connID string)
	IsOnline(userID int) bool
	ListOnline() []int
}

// MemoryRegistry is a mutex-guarded in-process Registry, optionally
// mirrored to a shared store set so other processes can read presence.
// The mirror is best effort and never blocks the caller's session.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[int]string
	store   cache.Store
}

// NewMemoryRegistry builds a registry. store may be nil.
func NewMemoryRegistry(store cache.Store) *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[int]string), store: store}
}

var _ Registry = (*MemoryRegistry)(nil)

// MarkOnline records the user's live connection, replacing any previous one.
func (r *MemoryRegistry) MarkOnline(ctx context.Context, userID int, connID string) {
	r.mu.Lock()
	r.entries[userID] = connID
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.AddSetMember(ctx, onlineSetKey, strconv.Itoa(userID)); err != nil {
			log.Printf("presence online mirror failed: %v", err)
		}
	}
}

// MarkOffline clears the user's entry. A teardown from a superseded
// connection is ignored so it cannot clobber the newer session.
func (r *MemoryRegistry) MarkOffline(ctx context.Context, userID int, connID string) {
	r.mu.Lock()
	current, ok := r.entries[userID]
	if ok && current != connID {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.RemoveSetMember(ctx, onlineSetKey, strconv.Itoa(userID)); err != nil {
			log.Printf("presence offline mirror failed: %v", err)
		}
	}
}

// IsOnline reports whether the user has a live connection.
func (r *MemoryRegistry) IsOnline(userID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// ListOnline returns a point-in-time snapshot of online user ids. With a
// store configured the shared set is authoritative, so users connected to
// other processes are included; a failed read falls back to the local map.
func (r *MemoryRegistry) ListOnline() []int {
	if r.store != nil {
		members, err := r.store.SetMembers(context.Background(), onlineSetKey)
		if err == nil {
			ids := make([]int, 0, len(members))
			for _, member := range members {
				if id, convErr := strconv.Atoi(member); convErr == nil {
					ids = append(ids, id)
				}
			}
			sort.Ints(ids)
			return ids
		}
		log.Printf("presence set read failed, using local view: %v", err)
	}

	r.mu.RLock()
	ids := make([]int, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Ints(ids)
	return ids
}
