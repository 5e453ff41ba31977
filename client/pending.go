package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/especial/proto"
)

type result struct {
	resp proto.Response
	err  error
}

// pendingTable tracks requests awaiting their correlated response. Every
// waiter is removed from the table before it is completed, so it completes at
// most once.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan result
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan result)}
}

// register allocates a correlation id unique among pending requests.
func (p *pendingTable) register() (string, <-chan result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.NewString()
	for p.waiters[id] != nil {
		id = uuid.NewString()
	}
	ch := make(chan result, 1)
	p.waiters[id] = ch
	return id, ch
}

func (p *pendingTable) resolve(resp proto.Response) bool {
	p.mu.Lock()
	ch, ok := p.waiters[resp.ID]
	delete(p.waiters, resp.ID)
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- result{resp: resp}
	return true
}

func (p *pendingTable) drop(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

func (p *pendingTable) failAll(err error) int {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan result)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{err: err}
	}
	return len(waiters)
}

func (p *pendingTable) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.waiters[id]
	return ok
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
