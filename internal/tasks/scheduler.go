package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrSchedulerClosed is returned by Go once Shutdown has started.
var ErrSchedulerClosed = errors.New("scheduler is shut down")

// Scheduler runs jobs on their own goroutine, at most maxConcurrent at a
// time. Go never blocks the caller: jobs over the limit wait for a slot.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	running atomic.Int64
	waiting atomic.Int64
}

func NewScheduler(maxConcurrent int64) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(maxConcurrent),
	}
}

// Go schedules fn, which receives a context cancelled on Shutdown. Every
// accepted job runs exactly once: a job still waiting for a slot when
// Shutdown starts runs with an already cancelled context, so it can record
// that it was interrupted.
func (s *Scheduler) Go(fn func(ctx context.Context)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.waiting.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.sem.Acquire(s.ctx, 1)
		s.waiting.Add(-1)
		if err != nil {
			fn(s.ctx)
			return
		}
		s.running.Add(1)
		defer func() {
			s.running.Add(-1)
			s.sem.Release(1)
		}()
		fn(s.ctx)
	}()
	return nil
}

// Running is the number of jobs currently executing.
func (s *Scheduler) Running() int64 { return s.running.Load() }

// Waiting is the number of jobs scheduled but not yet started.
func (s *Scheduler) Waiting() int64 { return s.waiting.Load() }

// Wait blocks until every scheduled job has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Shutdown refuses new jobs, cancels running ones and waits for them, or
// for ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
