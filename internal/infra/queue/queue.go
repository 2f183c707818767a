// Package queue funnels registry mutations through a single writer goroutine.
package queue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("write queue is full")
	ErrQueueClosed = errors.New("write queue is closed")
)

type writeTask struct {
	fn     func() error
	result chan error
}

// Serializer runs submitted functions one at a time, in submission order.
type Serializer struct {
	ch     chan writeTask
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewSerializer(buffer int) *Serializer {
	if buffer < 1 {
		buffer = 1
	}
	s := &Serializer{ch: make(chan writeTask, buffer)}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Serializer) run() {
	defer s.wg.Done()
	for task := range s.ch {
		task.result <- task.fn()
	}
}

// Do enqueues fn and waits for it to finish. A task already accepted by the
// writer still runs when ctx is cancelled; only the caller stops waiting.
func (s *Serializer) Do(ctx context.Context, fn func() error) error {
	task := writeTask{fn: fn, result: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrQueueClosed
	}
	select {
	case s.ch <- task:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	default:
		s.mu.RUnlock()
		return ErrQueueFull
	}

	select {
	case err := <-task.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, drains pending tasks and waits for the writer.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	s.wg.Wait()
}
