package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/events"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/store"
)

// fakeRunner stands in for the pipeline: it finishes tasks immediately unless
// told to block, and honors cooperative cancellation the way the real
// pipeline does.
type fakeRunner struct {
	mu      sync.Mutex
	ran     []string
	block   chan struct{}
	current atomic.Int32
	peak    atomic.Int32
	finish  func(t *research.Task)
}

func (r *fakeRunner) Run(ctx context.Context, t *research.Task) {
	cur := r.current.Add(1)
	for {
		p := r.peak.Load()
		if cur <= p || r.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	defer r.current.Add(-1)

	r.mu.Lock()
	r.ran = append(r.ran, t.ID)
	r.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}

	now := time.Now()
	if ctx.Err() != nil {
		t.Status = research.StatusCancelled
	} else if r.finish != nil {
		r.finish(t)
		if t.CompletedAt == nil {
			t.CompletedAt = &now
		}
		return
	} else {
		t.Status = research.StatusCompleted
		t.Stage = research.StageDone
	}
	t.CompletedAt = &now
}

func (r *fakeRunner) ranIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func newTestManager(t *testing.T, workers int, runner Runner) *Manager {
	t.Helper()
	m := New(config.ResearchConfig{MaxRunningTasks: workers}, store.NewMemory(), events.NewBus(), nil, nil)
	m.SetRunner(runner)
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func validRequest(subject string) research.Request {
	return research.Request{
		Subject:  research.Subject{Name: subject},
		Depth:    research.DepthQuick,
		Sections: []research.SectionKind{research.SectionFinancial},
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})

	_, err := m.Submit(context.Background(), research.Request{Subject: research.Subject{Name: "Acme"}, Depth: "bottomless"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !research.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := m.List(store.TaskFilter{}); len(got) != 0 {
		t.Fatalf("invalid request must not create a task, got %d", len(got))
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})

	id, err := m.Submit(context.Background(), validRequest("Acme"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "task completion", func() bool {
		task, err := m.Get(context.Background(), id)
		return err == nil && task.Status == research.StatusCompleted
	})
	task, _ := m.Get(context.Background(), id)
	if task.CompletedAt == nil {
		t.Fatalf("completed task missing completion time")
	}
	if len(task.RequestedSections) != 1 || task.RequestedSections[0] != research.SectionFinancial {
		t.Fatalf("unexpected sections: %v", task.RequestedSections)
	}
}

func TestDefaultSectionsFromDepth(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})

	id, err := m.Submit(context.Background(), research.Request{
		Subject: research.Subject{Name: "Acme"},
		Depth:   research.DepthComprehensive,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err := m.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(task.RequestedSections) != 4 {
		t.Fatalf("comprehensive depth should default to all sections, got %v", task.RequestedSections)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{block: gate}
	m := newTestManager(t, 2, runner)

	for i := 0; i < 5; i++ {
		if _, err := m.Submit(context.Background(), validRequest("Acme")); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	waitFor(t, "two tasks running", func() bool { return runner.current.Load() == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := runner.current.Load(); got != 2 {
		t.Fatalf("concurrency bound violated: %d running", got)
	}
	close(gate)
	waitFor(t, "all tasks done", func() bool {
		return len(m.List(store.TaskFilter{Status: research.StatusCompleted})) == 5
	})
	if runner.peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeded pool size 2", runner.peak.Load())
	}
}

func TestQueueIsFIFO(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{block: gate}
	m := newTestManager(t, 1, runner)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := m.Submit(context.Background(), validRequest("Acme"))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, id)
	}
	waitFor(t, "first task running", func() bool { return len(runner.ranIDs()) == 1 })
	close(gate)
	waitFor(t, "all done", func() bool { return len(runner.ranIDs()) == 3 })

	ran := runner.ranIDs()
	for i := range ids {
		if ran[i] != ids[i] {
			t.Fatalf("dequeue order %v differs from submission order %v", ran, ids)
		}
	}
}

func TestCancelPendingTaskNeverRuns(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{block: gate}
	m := newTestManager(t, 1, runner)

	blocker, _ := m.Submit(context.Background(), validRequest("First"))
	waitFor(t, "blocker running", func() bool {
		task, _ := m.Get(context.Background(), blocker)
		return task.Status == research.StatusRunning
	})

	victim, _ := m.Submit(context.Background(), validRequest("Second"))
	bus := m.bus
	ch, cancelSub := bus.Subscribe(victim)
	defer cancelSub()

	if err := m.Cancel(context.Background(), victim); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	task, _ := m.Get(context.Background(), victim)
	if task.Status != research.StatusCancelled {
		t.Fatalf("pending cancel must finalize immediately, status = %s", task.Status)
	}
	if task.Stage != research.StagePending {
		t.Fatalf("never-started task should still be at stage pending, got %s", task.Stage)
	}
	if task.CompletedAt == nil {
		t.Fatalf("cancelled task missing completion time")
	}

	var sawTerminal bool
	timeout := time.After(time.Second)
	for !sawTerminal {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed before terminal event")
			}
			if ev.Terminal {
				if ev.Status != string(research.StatusCancelled) {
					t.Fatalf("terminal event status = %s", ev.Status)
				}
				sawTerminal = true
			}
		case <-timeout:
			t.Fatalf("no terminal event for cancelled task")
		}
	}

	close(gate)
	waitFor(t, "blocker done", func() bool {
		task, _ := m.Get(context.Background(), blocker)
		return task.Status.Terminal()
	})
	for _, id := range runner.ranIDs() {
		if id == victim {
			t.Fatalf("cancelled-while-pending task was handed to a worker")
		}
	}
}

func TestCancelRunningTask(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	m := newTestManager(t, 1, runner)

	id, _ := m.Submit(context.Background(), validRequest("Acme"))
	waitFor(t, "task running", func() bool {
		task, _ := m.Get(context.Background(), id)
		return task.Status == research.StatusRunning
	})
	if err := m.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitFor(t, "task cancelled", func() bool {
		task, _ := m.Get(context.Background(), id)
		return task.Status == research.StatusCancelled
	})
}

func TestCancelTerminalTaskIsInvalidState(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})

	id, _ := m.Submit(context.Background(), validRequest("Acme"))
	waitFor(t, "task done", func() bool {
		task, _ := m.Get(context.Background(), id)
		return task.Status.Terminal()
	})
	if err := m.Cancel(context.Background(), id); err != research.ErrInvalidState {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancelUnknownTaskIsNotFound(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})
	if err := m.Cancel(context.Background(), "no-such-task"); err != research.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitBatchAllOrNothing(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})

	_, err := m.SubmitBatch(context.Background(), []research.Request{
		validRequest("Acme"),
		{Subject: research.Subject{Name: ""}, Depth: research.DepthQuick},
		validRequest("Globex"),
	})
	if err == nil {
		t.Fatalf("expected batch rejection")
	}
	if !research.IsValidation(err) {
		t.Fatalf("expected wrapped ValidationError, got %v", err)
	}
	if got := m.List(store.TaskFilter{}); len(got) != 0 {
		t.Fatalf("rejected batch must create no tasks, got %d", len(got))
	}
}

func TestBatchStatusReflectsMembers(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeRunner{block: gate}
	m := newTestManager(t, 2, runner)

	batch, err := m.SubmitBatch(context.Background(), []research.Request{
		validRequest("Acme"),
		validRequest("Globex"),
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if len(batch.TaskIDs) != 2 {
		t.Fatalf("expected 2 member tasks, got %d", len(batch.TaskIDs))
	}

	_, status, err := m.GetBatch(context.Background(), batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if status != research.StatusRunning {
		t.Fatalf("batch with active members should be running, got %s", status)
	}

	close(gate)
	waitFor(t, "batch completion", func() bool {
		_, status, err := m.GetBatch(context.Background(), batch.ID)
		return err == nil && status == research.StatusCompleted
	})
}

func TestListFilterAndPagination(t *testing.T) {
	m := newTestManager(t, 1, &fakeRunner{})

	var ids []string
	for _, subject := range []string{"Acme Robotics", "Globex", "Acme Labs"} {
		id, _ := m.Submit(context.Background(), validRequest(subject))
		ids = append(ids, id)
	}
	waitFor(t, "all done", func() bool {
		return len(m.List(store.TaskFilter{Status: research.StatusCompleted})) == 3
	})

	acme := m.List(store.TaskFilter{Subject: "acme"})
	if len(acme) != 2 || acme[0].ID != ids[0] || acme[1].ID != ids[2] {
		t.Fatalf("subject filter broke ordering: %v", taskIDs(acme))
	}
	paged := m.List(store.TaskFilter{Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0].ID != ids[1] {
		t.Fatalf("pagination returned %v", taskIDs(paged))
	}
	empty := m.List(store.TaskFilter{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("offset past end should be empty, got %v", taskIDs(empty))
	}
}

// progressRunner publishes one progress event through the manager, then waits
// for cancellation the way the pipeline does.
type progressRunner struct {
	m       *Manager
	percent int
	block   chan struct{}
}

func (r *progressRunner) Run(ctx context.Context, t *research.Task) {
	r.m.Publish(t.ID, research.StageGathering, r.percent, "dispatching specialist agents")
	select {
	case <-r.block:
	case <-ctx.Done():
	}
	now := time.Now()
	t.Status = research.StatusCancelled
	t.Stage = research.StageGathering
	t.CompletedAt = &now
}

func TestTerminalEventNeverRegressesPercent(t *testing.T) {
	m := New(config.ResearchConfig{MaxRunningTasks: 1}, store.NewMemory(), events.NewBus(), nil, nil)
	runner := &progressRunner{m: m, percent: 50, block: make(chan struct{})}
	m.SetRunner(runner)
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	})

	id, err := m.Submit(context.Background(), validRequest("Acme"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "task running", func() bool {
		task, _ := m.Get(context.Background(), id)
		return task.Status == research.StatusRunning
	})
	ch, cancelSub := m.bus.Subscribe(id)
	defer cancelSub()

	if err := m.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	last := -1
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed before terminal event")
			}
			if ev.Percent < last {
				t.Fatalf("percent regressed: saw %d after %d", ev.Percent, last)
			}
			last = ev.Percent
			if ev.Terminal {
				if ev.Status != string(research.StatusCancelled) {
					t.Fatalf("terminal status = %s", ev.Status)
				}
				if ev.Percent < 50 {
					t.Fatalf("terminal percent %d lost the task's progress", ev.Percent)
				}
				return
			}
		case <-timeout:
			t.Fatalf("no terminal event")
		}
	}
}

func taskIDs(tasks []*research.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
