package tasks

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
)

const (
	// FailureMessage is recorded on tasks failed by the failure probe.
	FailureMessage = "Simulated random failure"
	// InterruptedMessage is recorded on tasks stopped by a scheduler shutdown.
	InterruptedMessage = "Interrupted by shutdown"
)

// FailureFunc decides whether the given task fails at its failure probe.
type FailureFunc func(taskID string) bool

// RandomFailure fails one task in oneIn. oneIn <= 0 never fails.
func RandomFailure(oneIn int) FailureFunc {
	if oneIn <= 0 {
		return NeverFail
	}
	return func(string) bool { return rand.Intn(oneIn) == 0 }
}

func NeverFail(string) bool { return false }

// Observer is told about every state change of every task. TaskChanged is
// called with the task lock held, so it sees changes of one task in order,
// and must not block.
type Observer interface {
	TaskChanged(t domain.Task)
}

type entry struct {
	mu   sync.Mutex
	seq  uint64
	task domain.Task
}

func (e *entry) snapshot() domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task
}

// Registry is the process-lifetime table of background tasks. Tasks are
// never evicted.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	seq   uint64

	sched     *Scheduler
	clock     Clock
	fail      FailureFunc
	observers []Observer
	newID     func() string
}

type Option func(*Registry)

func WithClock(c Clock) Option         { return func(r *Registry) { r.clock = c } }
func WithFailure(f FailureFunc) Option { return func(r *Registry) { r.fail = f } }
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}
func WithIDs(newID func() string) Option { return func(r *Registry) { r.newID = newID } }

// NewRegistry constructs a Registry. Defaults: system clock, 1-in-20 failure.
func NewRegistry(sched *Scheduler, opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[string]*entry),
		sched: sched,
		clock: SystemClock(),
		fail:  RandomFailure(20),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type SubmitInput struct {
	Name        string
	Description string
	Duration    int // seconds
}

// Submit records a pending task, schedules its runner and returns at once.
func (r *Registry) Submit(ctx context.Context, p domain.Principal, in SubmitInput) (domain.Task, error) {
	if err := domain.Authorize(p, domain.AccessAuthenticated, ""); err != nil {
		return domain.Task{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return domain.Task{}, domain.Invalidf("name is required")
	}
	if in.Duration < domain.MinTaskDuration || in.Duration > domain.MaxTaskDuration {
		return domain.Task{}, domain.Invalidf("duration must be between %d and %d seconds",
			domain.MinTaskDuration, domain.MaxTaskDuration)
	}

	e := &entry{task: domain.Task{
		ID:          r.newID(),
		Name:        in.Name,
		Description: in.Description,
		Status:      domain.TaskPending,
		OwnerID:     p.ID,
		CreatedBy:   p.Username,
		Duration:    in.Duration,
		CreatedAt:   r.clock.Now(),
	}}

	// not shared yet, so observers see pending before anything else
	snap := e.task
	r.notify(snap)

	r.mu.Lock()
	r.seq++
	e.seq = r.seq
	r.tasks[snap.ID] = e
	r.mu.Unlock()

	duration := in.Duration
	if err := r.sched.Go(func(ctx context.Context) { r.run(ctx, e, duration) }); err != nil {
		r.interrupt(e)
		return domain.Task{}, domain.Unavailablef("task %s not started: %v", snap.ID, err)
	}

	logging.FromCtx(ctx).Info("task submitted", "task_id", snap.ID, "owner", p.ID, "duration", duration)
	return snap, nil
}

// Get returns a consistent snapshot of one task.
func (r *Registry) Get(_ context.Context, p domain.Principal, id string) (domain.Task, error) {
	e, ok := r.lookup(id)
	if !ok {
		return domain.Task{}, domain.NotFoundf("task %s not found", id)
	}
	t := e.snapshot()
	if err := domain.Authorize(p, domain.AccessOwner, t.OwnerID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// List returns every task for admins and the caller's own tasks otherwise,
// newest first.
func (r *Registry) List(_ context.Context, p domain.Principal) ([]domain.Task, error) {
	if err := domain.Authorize(p, domain.AccessAuthenticated, ""); err != nil {
		return nil, err
	}

	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tasks))
	for _, e := range r.tasks {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	out := make([]domain.Task, 0, len(entries))
	for _, e := range entries {
		t := e.snapshot()
		if p.IsAdmin() || t.OwnerID == p.ID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Cancel marks a pending or processing task cancelled. The runner notices
// before its next write and stops.
func (r *Registry) Cancel(ctx context.Context, p domain.Principal, id string) (domain.Task, error) {
	e, ok := r.lookup(id)
	if !ok {
		return domain.Task{}, domain.NotFoundf("task %s not found", id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := domain.Authorize(p, domain.AccessOwner, e.task.OwnerID); err != nil {
		return domain.Task{}, err
	}
	if !e.task.Status.Cancellable() {
		return domain.Task{}, domain.Invalidf("task cannot be cancelled (status: %s)", e.task.Status)
	}
	e.task.Status = domain.TaskCancelled
	r.notify(e.task)

	logging.FromCtx(ctx).Info("task cancelled", "task_id", id, "by", p.ID)
	return e.task, nil
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	return e, ok
}

func (r *Registry) notify(t domain.Task) {
	for _, o := range r.observers {
		o.TaskChanged(t)
	}
}
