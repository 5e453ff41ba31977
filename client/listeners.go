package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/especial/proto"
)

// UnhandledMessage is the listener key that receives every message no pending
// request or listener claimed.
const UnhandledMessage = "unhandledMessage"

// Listener receives an unsolicited message.
type Listener func(proto.Response)

type registration struct {
	id   string
	fn   Listener
	once bool
}

type listenerRegistry struct {
	mu   sync.Mutex
	keys map[string][]*registration
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{keys: make(map[string][]*registration)}
}

func (r *listenerRegistry) add(key string, fn Listener, once bool) string {
	reg := &registration{id: uuid.NewString(), fn: fn, once: once}

	r.mu.Lock()
	r.keys[key] = append(r.keys[key], reg)
	r.mu.Unlock()
	return reg.id
}

func (r *listenerRegistry) remove(key, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.keys[key]
	for i, reg := range regs {
		if reg.id != id {
			continue
		}
		regs = append(regs[:i:i], regs[i+1:]...)
		if len(regs) == 0 {
			delete(r.keys, key)
		} else {
			r.keys[key] = regs
		}
		return true
	}
	return false
}

// take returns the handlers registered under key in registration order.
// One-shot registrations are removed before they are returned.
func (r *listenerRegistry) take(key string) []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.keys[key]
	if len(regs) == 0 {
		return nil
	}
	fns := make([]Listener, 0, len(regs))
	kept := regs[:0:0]
	for _, reg := range regs {
		fns = append(fns, reg.fn)
		if !reg.once {
			kept = append(kept, reg)
		}
	}
	if len(kept) == 0 {
		delete(r.keys, key)
	} else {
		r.keys[key] = kept
	}
	return fns
}

func (r *listenerRegistry) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys[key]) > 0
}

func (r *listenerRegistry) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys[key])
}
