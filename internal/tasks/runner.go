package tasks

import (
	"context"
	"time"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
)

// Slices is the number of equal time slices a task's duration is split into.
// Progress advances 100/Slices points per slice.
const Slices = 10

// run drives one task: pending -> processing -> completed | failed, unless a
// cancel lands first. Every write happens under the task lock and is skipped
// once the task is no longer in the state the runner expects.
func (r *Registry) run(ctx context.Context, e *entry, duration int) {
	log := logging.New("tasks")
	id := e.snapshot().ID

	if ctx.Err() != nil {
		r.interrupt(e)
		return
	}
	if _, ok := r.transition(e, func(t *domain.Task) bool {
		if t.Status != domain.TaskPending {
			return false
		}
		t.Status = domain.TaskProcessing
		t.Progress = 0
		return true
	}); !ok {
		return
	}

	slice := time.Duration(duration) * time.Second / Slices
	for i := 1; i <= Slices; i++ {
		if err := r.clock.Sleep(ctx, slice); err != nil {
			log.Warn("task runner stopped", "task_id", id, "err", err)
			r.interrupt(e)
			return
		}

		snap, ok := r.transition(e, func(t *domain.Task) bool {
			if t.Status != domain.TaskProcessing {
				return false
			}
			t.Progress = i * 100 / Slices
			switch {
			case i == Slices-1 && r.fail(t.ID):
				t.Status = domain.TaskFailed
				t.Error = FailureMessage
			case i == Slices:
				now := r.clock.Now()
				t.Status = domain.TaskCompleted
				t.CompletedAt = &now
			}
			return true
		})
		if !ok || snap.Status.IsTerminal() {
			return
		}
	}
}

// interrupt fails a task whose runner was stopped by shutdown, so it is not
// left looking queued or running.
func (r *Registry) interrupt(e *entry) {
	r.transition(e, func(t *domain.Task) bool {
		t.Status = domain.TaskFailed
		t.Error = InterruptedMessage
		return true
	})
}

// transition applies fn under the task lock. Terminal tasks are never
// handed to fn.
func (r *Registry) transition(e *entry, fn func(t *domain.Task) bool) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status.IsTerminal() || !fn(&e.task) {
		return e.task, false
	}
	r.notify(e.task)
	return e.task, true
}
