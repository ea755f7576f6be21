package tasks_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/tasks"
)

var (
	admin = domain.Principal{ID: "u-admin", Username: "admin", Role: domain.RoleAdmin}
	alice = domain.Principal{ID: "u-alice", Username: "alice", Role: domain.RoleUser}
	bob   = domain.Principal{ID: "u-bob", Username: "bob", Role: domain.RoleUser}
)

// stepClock releases one runner slice per tick.
type stepClock struct {
	ticks chan struct{}
	now   time.Time
}

func newStepClock() *stepClock {
	return &stepClock{
		ticks: make(chan struct{}),
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Sleep(ctx context.Context, _ time.Duration) error {
	select {
	case <-c.ticks:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *stepClock) step(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case c.ticks <- struct{}{}:
		case <-time.After(2 * time.Second):
			t.Fatalf("no runner waiting for slice %d", i+1)
		}
	}
}

// recorder keeps every snapshot the registry publishes.
type recorder struct {
	mu     sync.Mutex
	events []domain.Task
}

func (r *recorder) TaskChanged(t domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
}

func (r *recorder) of(id string) []domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.events {
		if t.ID == id {
			out = append(out, t)
		}
	}
	return out
}

type fixture struct {
	reg   *tasks.Registry
	sched *tasks.Scheduler
	clock *stepClock
	rec   *recorder
}

func newFixture(t *testing.T, maxRunners int64, fail tasks.FailureFunc) *fixture {
	t.Helper()
	f := &fixture{
		sched: tasks.NewScheduler(maxRunners),
		clock: newStepClock(),
		rec:   &recorder{},
	}
	f.reg = tasks.NewRegistry(f.sched,
		tasks.WithClock(f.clock),
		tasks.WithFailure(fail),
		tasks.WithObserver(f.rec),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.sched.Shutdown(ctx)
	})
	return f
}

func (f *fixture) waitFor(t *testing.T, id string, cond func(domain.Task) bool) domain.Task {
	t.Helper()
	var last domain.Task
	require.Eventually(t, func() bool {
		var err error
		last, err = f.reg.Get(context.Background(), admin, id)
		return err == nil && cond(last)
	}, 2*time.Second, 5*time.Millisecond, "last seen: %+v", last)
	return last
}

func status(s domain.TaskStatus) func(domain.Task) bool {
	return func(t domain.Task) bool { return t.Status == s }
}

func progress(p int) func(domain.Task) bool {
	return func(t domain.Task) bool { return t.Progress == p }
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	f := newFixture(t, 4, tasks.NeverFail)
	ctx := context.Background()

	task, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "report", Duration: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Equal(t, "alice", task.CreatedBy)
	assert.Nil(t, task.CompletedAt)

	f.waitFor(t, task.ID, status(domain.TaskProcessing))

	f.clock.step(t, 1)
	f.waitFor(t, task.ID, progress(10))

	f.clock.step(t, 9)
	done := f.waitFor(t, task.ID, status(domain.TaskCompleted))
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, f.clock.now, *done.CompletedAt)
	assert.Empty(t, done.Error)

	f.sched.Wait()
	events := f.rec.of(task.ID)
	require.Len(t, events, 12)
	assert.Equal(t, domain.TaskPending, events[0].Status)
	assert.Equal(t, domain.TaskProcessing, events[1].Status)
	assert.Equal(t, domain.TaskCompleted, events[11].Status)
}

func TestSubmit_FailureProbe(t *testing.T) {
	f := newFixture(t, 4, func(string) bool { return true })

	task, err := f.reg.Submit(context.Background(), alice, tasks.SubmitInput{Name: "flaky", Duration: 3})
	require.NoError(t, err)

	f.waitFor(t, task.ID, status(domain.TaskProcessing))
	f.clock.step(t, 9)
	failed := f.waitFor(t, task.ID, status(domain.TaskFailed))

	assert.Equal(t, tasks.FailureMessage, failed.Error)
	assert.Equal(t, 90, failed.Progress)
	assert.Nil(t, failed.CompletedAt)

	f.sched.Wait()
	assert.Equal(t, int64(0), f.sched.Running())
}

func TestCancel_StopsRunner(t *testing.T) {
	f := newFixture(t, 4, tasks.NeverFail)
	ctx := context.Background()

	task, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "long", Duration: 10})
	require.NoError(t, err)
	f.waitFor(t, task.ID, status(domain.TaskProcessing))
	f.clock.step(t, 1)
	f.waitFor(t, task.ID, progress(10))

	cancelled, err := f.reg.Cancel(ctx, alice, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, cancelled.Status)

	// the runner wakes, sees the cancel and exits without writing
	f.clock.step(t, 1)
	f.sched.Wait()

	got, err := f.reg.Get(ctx, alice, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, got.Status)
	assert.Equal(t, 10, got.Progress)

	_, err = f.reg.Cancel(ctx, alice, task.ID)
	require.ErrorIs(t, err, domain.ErrInvalid)
}

func TestCancel_PendingTaskNeverRuns(t *testing.T) {
	f := newFixture(t, 1, tasks.NeverFail)
	ctx := context.Background()

	first, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "first", Duration: 1})
	require.NoError(t, err)
	second, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "second", Duration: 1})
	require.NoError(t, err)

	f.waitFor(t, first.ID, status(domain.TaskProcessing))
	require.Eventually(t, func() bool { return f.sched.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.reg.Cancel(ctx, admin, second.ID)
	require.NoError(t, err)

	f.clock.step(t, 10)
	f.sched.Wait()

	got, err := f.reg.Get(ctx, alice, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Len(t, f.rec.of(second.ID), 2)
}

func TestScheduler_BoundsConcurrentRunners(t *testing.T) {
	f := newFixture(t, 2, tasks.NeverFail)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		task, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: fmt.Sprintf("t%d", i), Duration: 1})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	require.Eventually(t, func() bool {
		return f.sched.Running() == 2 && f.sched.Waiting() == 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		processing := 0
		for _, id := range ids {
			got, err := f.reg.Get(ctx, alice, id)
			require.NoError(t, err)
			if got.Status == domain.TaskProcessing {
				processing++
			}
		}
		return processing == 2
	}, 2*time.Second, 5*time.Millisecond)

	f.clock.step(t, 50)
	f.sched.Wait()
	for _, id := range ids {
		got, err := f.reg.Get(ctx, alice, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskCompleted, got.Status)
	}
}

func TestCancelRacesRunner(t *testing.T) {
	f := newFixture(t, 8, tasks.NeverFail)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 8; i++ {
		task, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "race", Duration: 1})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * time.Millisecond)
			if _, err := f.reg.Cancel(ctx, alice, id); err == nil {
				wins.Add(1)
			}
		}()
	}

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case f.clock.ticks <- struct{}{}:
			case <-stop:
				return
			}
		}
	}()
	wg.Wait()
	f.sched.Wait()
	close(stop)

	cancelled := 0
	for _, id := range ids {
		got, err := f.reg.Get(ctx, alice, id)
		require.NoError(t, err)
		require.True(t, got.Status.IsTerminal(), "task %s left in %s", id, got.Status)
		if got.Status == domain.TaskCancelled {
			cancelled++
		}
		assertWellFormed(t, f.rec.of(id))
	}
	assert.Equal(t, int(wins.Load()), cancelled)
}

// assertWellFormed checks that progress never decreases and that nothing
// follows a terminal state.
func assertWellFormed(t *testing.T, events []domain.Task) {
	t.Helper()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		require.False(t, prev.Status.IsTerminal(), "event after terminal %s", prev.Status)
		require.GreaterOrEqual(t, cur.Progress, prev.Progress)
	}
	require.True(t, events[len(events)-1].Status.IsTerminal())
}

func TestAccessRules(t *testing.T) {
	f := newFixture(t, 4, tasks.NeverFail)
	ctx := context.Background()

	mine, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "mine", Duration: 1})
	require.NoError(t, err)
	theirs, err := f.reg.Submit(ctx, bob, tasks.SubmitInput{Name: "theirs", Duration: 1})
	require.NoError(t, err)

	_, err = f.reg.Get(ctx, bob, mine.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.reg.Cancel(ctx, bob, mine.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.reg.Get(ctx, alice, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.reg.Cancel(ctx, alice, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	list, err := f.reg.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.reg.List(ctx, admin)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, theirs.ID, list[0].ID)
	assert.Equal(t, mine.ID, list[1].ID)

	_, err = f.reg.List(ctx, domain.Principal{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, 1, tasks.NeverFail)
	ctx := context.Background()

	for _, in := range []tasks.SubmitInput{
		{Name: "", Duration: 5},
		{Name: "zero", Duration: 0},
		{Name: "long", Duration: 61},
	} {
		_, err := f.reg.Submit(ctx, alice, in)
		require.ErrorIs(t, err, domain.ErrInvalid, "%+v", in)
	}
	_, err := f.reg.Submit(ctx, domain.Principal{}, tasks.SubmitInput{Name: "x", Duration: 1})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	list, err := f.reg.List(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMetrics_CountsTransitions(t *testing.T) {
	sched := tasks.NewScheduler(2)
	clock := newStepClock()
	promReg := prometheus.NewRegistry()
	m := tasks.NewMetrics(promReg, sched)
	reg := tasks.NewRegistry(sched, tasks.WithClock(clock), tasks.WithFailure(tasks.NeverFail), tasks.WithObserver(m))

	task, err := reg.Submit(context.Background(), alice, tasks.SubmitInput{Name: "m", Duration: 1})
	require.NoError(t, err)
	clock.step(t, 10)
	sched.Wait()

	got, err := reg.Get(context.Background(), alice, task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskCompleted, got.Status)

	n, err := testutil.GatherAndCount(promReg, "tasks_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestShutdown_FailsQueuedAndRunningTasks(t *testing.T) {
	f := newFixture(t, 1, tasks.NeverFail)
	ctx := context.Background()

	running, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "running", Duration: 5})
	require.NoError(t, err)
	queued, err := f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "queued", Duration: 5})
	require.NoError(t, err)
	f.waitFor(t, running.ID, status(domain.TaskProcessing))
	require.Eventually(t, func() bool { return f.sched.Waiting() == 1 }, time.Second, 5*time.Millisecond)

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, f.sched.Shutdown(sctx))

	for _, id := range []string{running.ID, queued.ID} {
		got, err := f.reg.Get(ctx, alice, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskFailed, got.Status)
		assert.Equal(t, tasks.InterruptedMessage, got.Error)
		assertWellFormed(t, f.rec.of(id))
	}
	assert.Len(t, f.rec.of(queued.ID), 2)

	_, err = f.reg.Submit(ctx, alice, tasks.SubmitInput{Name: "late", Duration: 1})
	require.ErrorIs(t, err, domain.ErrUnavailable)
	require.ErrorIs(t, f.sched.Go(func(context.Context) {}), tasks.ErrSchedulerClosed)

	list, err := f.reg.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, task := range list {
		assert.True(t, task.Status.IsTerminal(), "%s left in %s", task.Name, task.Status)
	}
}
