package hub

import (
	"sync"
	"sync/atomic"
)

// Registry tracks every live connection by id and indexes them by user. The
// user index backs same-user multi-tab eviction: joining a match from a second
// connection evicts the older ones from whatever match they are in.
type Registry struct {
	mu        sync.RWMutex
	conns     map[int64]*Client
	byUser    map[string]map[int64]*Client
	lobbySubs map[int64]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[int64]*Client),
		byUser:    make(map[string]map[int64]*Client),
		lobbySubs: make(map[int64]*Client),
	}
}

func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
}

// Remove unindexes the connection everywhere. Returns whether it was present.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	delete(r.lobbySubs, c.id)
	for userID, set := range r.byUser {
		if _, ok := set[c.id]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(r.byUser, userID)
			}
			break
		}
	}
	return true
}

func (r *Registry) Get(id int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// BindUser indexes the connection under a user id (on JoinMatch). A
// connection belongs to at most one user; rebinding moves it.
func (r *Registry) BindUser(c *Client, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, set := range r.byUser {
		if uid == userID {
			continue
		}
		if _, ok := set[c.id]; ok {
			delete(set, c.id)
			if len(set) == 0 {
				delete(r.byUser, uid)
			}
		}
	}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[int64]*Client)
		r.byUser[userID] = set
	}
	set[c.id] = c
}

// ByUser returns all live connections for a user.
func (r *Registry) ByUser(userID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) SubscribeLobbies(c *Client) {
	r.mu.Lock()
	r.lobbySubs[c.id] = c
	r.mu.Unlock()
	atomic.StoreInt32(&c.subscribedLobbies, 1)
}

func (r *Registry) UnsubscribeLobbies(c *Client) {
	r.mu.Lock()
	delete(r.lobbySubs, c.id)
	r.mu.Unlock()
	atomic.StoreInt32(&c.subscribedLobbies, 0)
}

func (r *Registry) LobbySubscribers() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.lobbySubs))
	for _, c := range r.lobbySubs {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) LobbyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobbySubs)
}

// All snapshots every connection, for the idle reaper and shutdown drain.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
