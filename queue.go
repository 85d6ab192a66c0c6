package kolog

import (
	"context"
	"sync"
)

// recordQueue is a bounded FIFO with drain accounting: every record put must
// eventually be matched by a TaskDone call, and Join blocks until all work
// handed out has been marked done. A nil record is the shutdown sentinel.
//
// Channels cannot express "queue logically empty and all in-flight work
// finished", so this is a small condition-variable queue instead.
type recordQueue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	allDone  *sync.Cond

	items      []*Record
	capacity   int
	unfinished int
}

// newRecordQueue builds a queue with the given capacity. A non-positive
// capacity means unbounded.
func newRecordQueue(capacity int) *recordQueue {
	q := &recordQueue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	q.allDone = sync.NewCond(&q.mu)
	return q
}

func (q *recordQueue) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// Put blocks until space is available, then appends the record. Returns the
// context error if the wait is cancelled first.
func (q *recordQueue) Put(ctx context.Context, rec *Record) error {
	// Wake the waiter if the context dies while it is blocked in Wait.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.full() {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
	q.items = append(q.items, rec)
	q.unfinished++
	q.notEmpty.Signal()
	return nil
}

// TryPut appends the record without blocking. Reports false when full.
func (q *recordQueue) TryPut(rec *Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full() {
		return false
	}
	q.items = append(q.items, rec)
	q.unfinished++
	q.notEmpty.Signal()
	return true
}

// TryPopOldest removes and returns the oldest queued record without
// blocking. The caller takes over its TaskDone obligation.
func (q *recordQueue) TryPopOldest() (*Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	rec := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return rec, true
}

// Get blocks until a record is available and removes it. The caller must
// call TaskDone once the record is fully processed.
func (q *recordQueue) Get(ctx context.Context) (*Record, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}
	rec := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return rec, nil
}

// TaskDone marks one previously gotten (or popped) record as finished.
func (q *recordQueue) TaskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished > 0 {
		q.unfinished--
	}
	if q.unfinished == 0 {
		q.allDone.Broadcast()
	}
}

// Join blocks until every record ever put has been marked done.
func (q *recordQueue) Join(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.allDone.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.unfinished > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.allDone.Wait()
	}
	return nil
}

// Len reports how many records are currently queued.
func (q *recordQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
