// Package presence tracks which username is reachable through which
// connection. Entries hold connection ids, never connections: resolving an id
// to a live session is the caller's job, so a stale entry can only ever
// resolve to "absent".
package presence

import (
	"sort"
	"sync"
)

// Registry maps usernames to connection ids. It is safe for concurrent use
// and guarded by its own mutex, independent of any session's state.
type Registry struct {
	mu    sync.Mutex
	users map[string]uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]uint64)}
}

// Register installs or overwrites the mapping for user. When onInstalled is
// non-nil it runs after the mapping is in place and before the registry lock
// is released, so no Resolve for user can interleave with it.
//
// Parameters:
//   - user: The claimed username
//   - id: The connection id now owning user
//   - onInstalled: Optional hook run under the registry lock
//
// Returns:
//   - The id previously registered for user and true, or 0 and false
func (r *Registry) Register(user string, id uint64, onInstalled func()) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, replaced := r.users[user]
	r.users[user] = id

	if onInstalled != nil {
		onInstalled()
	}

	return prev, replaced
}

// Unregister removes the mapping for user only if it still points at id.
// A late unregister from a superseded connection is therefore a no-op.
//
// Returns:
//   - true if an entry was removed
func (r *Registry) Unregister(user string, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[user]
	if !ok || current != id {
		return false
	}

	delete(r.users, user)
	return true
}

// Lookup returns the connection id registered for user.
func (r *Registry) Lookup(user string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[user]
	return id, ok
}

// Resolve runs fn with the lookup result for user while holding the registry
// lock. fn must not call back into the Registry.
func (r *Registry) Resolve(user string, fn func(id uint64, ok bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.users[user]
	fn(id, ok)
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.users)
}

// Users returns the registered usernames in sorted order.
func (r *Registry) Users() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}
