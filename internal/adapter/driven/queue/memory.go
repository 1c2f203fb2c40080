// Package queue provides the process-lifetime JobQueue used between intake
// and the sync worker.
package queue

import (
	"context"
	"sync"

	"github.com/ericfisherdev/txmirror/internal/domain/model"
	"github.com/ericfisherdev/txmirror/internal/domain/port/driven"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1024

// Compile-time interface satisfaction check.
var _ driven.JobQueue = (*Memory)(nil)

// Memory is a bounded in-memory JobQueue backed by a buffered channel.
// Jobs do not survive a restart.
type Memory struct {
	ch     chan model.Job
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates a queue holding at most capacity jobs.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{ch: make(chan model.Job, capacity)}
}

func (q *Memory) TryEnqueue(job model.Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	select {
	case q.ch <- job:
		return true
	default:
		return false
	}
}

// DequeueBatch blocks for the first job, then takes whatever else is
// already buffered up to max without waiting.
func (q *Memory) DequeueBatch(ctx context.Context, max int) ([]model.Job, bool) {
	if max <= 0 {
		max = 1
	}

	var first model.Job
	select {
	case job, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		first = job
	case <-ctx.Done():
		return nil, false
	}

	batch := []model.Job{first}
	for len(batch) < max {
		select {
		case job, ok := <-q.ch:
			if !ok {
				return batch, true
			}
			batch = append(batch, job)
		default:
			return batch, true
		}
	}

	return batch, true
}

func (q *Memory) Depth() int {
	return len(q.ch)
}

func (q *Memory) Capacity() int {
	return cap(q.ch)
}

// Close stops accepting jobs. Consumers drain what is already buffered.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
