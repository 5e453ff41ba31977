package server

import (
	"sort"
	"sync"
)

// ConnRegistry tracks every open connection across all transports.
type ConnRegistry struct {
	mu    sync.RWMutex
	store map[string]Conn
}

func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{store: make(map[string]Conn)}
}

func (r *ConnRegistry) Store(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[conn.Meta().Id] = conn
}

func (r *ConnRegistry) Get(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.store[id]
	return val, ok
}

func (r *ConnRegistry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.store, id)
}

func (r *ConnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

// List returns a snapshot ordered by connection time.
func (r *ConnRegistry) List() []Conn {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.store))
	for _, conn := range r.store {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool {
		return conns[i].Meta().ConnectedAt.Before(conns[j].Meta().ConnectedAt)
	})
	return conns
}
