package acp

import (
	"context"
	"sync"
	"time"
)

// item is one entry of the update queue: a session update, the end of a
// prompt turn, or the end of the connection. turn is the prompt it
// belongs to.
type item struct {
	turn    uint64
	update  *SessionUpdate
	done    *PromptResult
	elapsed time.Duration
	err     error
	eof     bool
}

// queue is an unbounded FIFO. The reader never blocks on it, so responses
// keep flowing while nobody is receiving updates.
type queue struct {
	mu     sync.Mutex
	items  []item
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available or ctx is done.
func (q *queue) pop(ctx context.Context) (item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			if it.eof {
				// The end marker stays so later receivers see it too.
				q.mu.Unlock()
				return it, nil
			}
			q.items[0] = item{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return it, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return item{}, ctx.Err()
		}
	}
}
