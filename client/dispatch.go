package client

import "sync"

// serialQueue runs queued functions one at a time in push order on a
// goroutine of its own, so callers never wait on the functions they queue.
// The goroutine exits when the queue drains and is restarted by the next push.
// The zero value is ready to use.
type serialQueue struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (q *serialQueue) push(fn func()) {
	q.mu.Lock()
	q.queue = append(q.queue, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.running = false
			q.queue = nil
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		fn()
	}
}

// len reports how many functions are queued but not yet started.
func (q *serialQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
