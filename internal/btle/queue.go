package btle

import (
	"context"
	"sync"
)

// transactionQueue is a FIFO with a privileged push to the front. Every
// mutation happens under one lock, so an insert can never interleave with an
// enqueue, dequeue or clear.
type transactionQueue struct {
	mu     sync.Mutex
	items  []*Transaction
	signal chan struct{}
}

func newTransactionQueue() *transactionQueue {
	return &transactionQueue{signal: make(chan struct{}, 1)}
}

func (q *transactionQueue) push(tx *Transaction) {
	q.mu.Lock()
	q.items = append(q.items, tx)
	q.mu.Unlock()
	q.wake()
}

func (q *transactionQueue) pushFront(tx *Transaction) {
	q.mu.Lock()
	q.items = append([]*Transaction{tx}, q.items...)
	q.mu.Unlock()
	q.wake()
}

func (q *transactionQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// take blocks until a transaction is available or ctx is done.
func (q *transactionQueue) take(ctx context.Context) (*Transaction, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			tx := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return tx, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// clear drops every queued transaction and returns how many were dropped.
func (q *transactionQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *transactionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
