package worker

import (
	"sync"

	"github.com/rmacdonaldsmith/pumprelay-go/pkg/peripheral"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/worker"
)

// item is either a host request or a session event. Events carry the
// generation of the session that emitted them.
type item struct {
	request    *worker.Request
	event      peripheral.Event
	generation uint64
}

// queue is an unbounded FIFO shared by host requests and session events.
// Pushing never blocks, so a protocol callback that fires while the worker is
// inside SendCommand cannot deadlock against it.
type queue struct {
	mu       sync.Mutex
	items    []item
	requests int
	ready    chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) pushEvent(generation uint64, ev peripheral.Event) {
	q.mu.Lock()
	q.items = append(q.items, item{event: ev, generation: generation})
	q.mu.Unlock()
	q.signal()
}

// pushRequest enqueues req unless limit requests are already pending.
func (q *queue) pushRequest(req worker.Request, limit int) bool {
	q.mu.Lock()
	if q.requests >= limit {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item{request: &req})
	q.requests++
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *queue) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	if it.request != nil {
		q.requests--
	}
	return it, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
