// Package manager owns the lifecycle of research tasks: admission, queueing,
// the worker pool, cancellation and batch bookkeeping. All mutations of a
// task record go through the manager's lock, so observers always see a
// consistent snapshot.
package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/events"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/store"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/telemetry"
)

// Runner executes one task to a terminal status. Satisfied by
// *research.Pipeline.
type Runner interface {
	Run(ctx context.Context, task *research.Task)
}

// Manager accepts research requests and drives them through a bounded worker
// pool. Queueing is FIFO; at most MaxRunningTasks tasks run concurrently and
// the pending queue is unbounded.
type Manager struct {
	cfg    config.ResearchConfig
	repo   store.Repository
	bus    *events.Bus
	runner Runner
	logger *log.Logger
	tele   *telemetry.Telemetry

	mu       sync.Mutex
	cond     *sync.Cond
	tasks    map[string]*research.Task
	order    []string
	batches  map[string]*research.Batch
	queue    []string
	cancels  map[string]context.CancelFunc
	percents map[string]int
	closed   bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg config.ResearchConfig, repo store.Repository, bus *events.Bus, logger *log.Logger, tele *telemetry.Telemetry) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		repo:       repo,
		bus:        bus,
		logger:     logger,
		tele:       tele,
		tasks:      make(map[string]*research.Task),
		batches:    make(map[string]*research.Batch),
		cancels:    make(map[string]context.CancelFunc),
		percents:   make(map[string]int),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetRunner wires the pipeline. Must be called before Start; split from New
// because the pipeline's progress publisher is the manager itself.
func (m *Manager) SetRunner(r Runner) { m.runner = r }

// Start launches the worker pool.
func (m *Manager) Start() {
	if m.runner == nil {
		panic("manager: Start called before SetRunner")
	}
	n := m.cfg.MaxRunningTasks
	if n <= 0 {
		n = 2
	}
	m.logger.Printf("[MGR] starting %d workers", n)
	for i := 0; i < n; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop drains the pool: no new tasks start, and running tasks get until the
// context deadline before they are cancelled.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Printf("[MGR] shutdown deadline reached, cancelling running tasks")
		m.baseCancel()
		<-done
	}
	m.baseCancel()
}

// Submit validates the request and enqueues a new pending task. No task is
// created for an invalid request.
func (m *Manager) Submit(ctx context.Context, req research.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	task := m.newTask(req)
	if err := m.repo.SaveTask(ctx, task); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}
	m.enqueue(task)
	return task.ID, nil
}

// SubmitBatch validates every request before creating anything: one invalid
// request rejects the whole batch.
func (m *Manager) SubmitBatch(ctx context.Context, reqs []research.Request) (*research.Batch, error) {
	if len(reqs) == 0 {
		return nil, &research.ValidationError{Field: "requests", Reason: "batch must contain at least one request"}
	}
	for i, req := range reqs {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}
	tasks := make([]*research.Task, len(reqs))
	batch := &research.Batch{ID: uuid.NewString(), CreatedAt: time.Now()}
	for i, req := range reqs {
		tasks[i] = m.newTask(req)
		batch.TaskIDs = append(batch.TaskIDs, tasks[i].ID)
	}
	for _, t := range tasks {
		if err := m.repo.SaveTask(ctx, t); err != nil {
			return nil, fmt.Errorf("persist task: %w", err)
		}
	}
	if err := m.repo.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}
	m.mu.Lock()
	m.batches[batch.ID] = batch
	m.mu.Unlock()
	for _, t := range tasks {
		m.enqueue(t)
	}
	out := *batch
	out.TaskIDs = append([]string(nil), batch.TaskIDs...)
	return &out, nil
}

// Get returns a snapshot of the task. Tasks from a previous process are
// served from the repository.
func (m *Manager) Get(ctx context.Context, id string) (*research.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		snap := t.Clone()
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()
	return m.repo.GetTask(ctx, id)
}

// Cancel requests cooperative cancellation. Pending tasks finalize
// immediately; running tasks stop at their next stage transition. Cancelling
// a terminal task is an invalid state error.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		if _, err := m.repo.GetTask(ctx, id); err != nil {
			return research.ErrNotFound
		}
		// only terminal tasks fall out of the registry
		return research.ErrInvalidState
	}
	switch {
	case t.Status.Terminal():
		m.mu.Unlock()
		return research.ErrInvalidState
	case t.Status == research.StatusPending:
		now := time.Now()
		t.Status = research.StatusCancelled
		t.UpdatedAt = now
		t.CompletedAt = &now
		snap := t.Clone()
		m.mu.Unlock()
		m.finalize(snap)
		return nil
	default:
		cancel := m.cancels[id]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
}

// List returns task snapshots in submission order, filtered and paged.
func (m *Manager) List(f store.TaskFilter) []*research.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*research.Task
	for _, id := range m.order {
		t := m.tasks[id]
		if !f.Matches(t) {
			continue
		}
		matched = append(matched, t.Clone())
	}
	if f.Offset >= len(matched) {
		return nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched
}

// GetBatch returns the batch and its derived status.
func (m *Manager) GetBatch(ctx context.Context, id string) (*research.Batch, research.Status, error) {
	m.mu.Lock()
	b, ok := m.batches[id]
	m.mu.Unlock()
	if !ok {
		var err error
		b, err = m.repo.GetBatch(ctx, id)
		if err != nil {
			return nil, "", err
		}
	}
	statuses := make([]research.Status, 0, len(b.TaskIDs))
	for _, tid := range b.TaskIDs {
		t, err := m.Get(ctx, tid)
		if err != nil {
			return nil, "", fmt.Errorf("batch member %s: %w", tid, err)
		}
		statuses = append(statuses, t.Status)
	}
	out := *b
	out.TaskIDs = append([]string(nil), b.TaskIDs...)
	return &out, research.BatchStatus(statuses), nil
}

// Publish implements research.ProgressPublisher: stage transitions from the
// pipeline are mirrored into the registry snapshot and fanned out on the bus.
func (m *Manager) Publish(taskID string, stage research.Stage, percent int, message string) {
	m.mu.Lock()
	if t, ok := m.tasks[taskID]; ok && !t.Status.Terminal() {
		t.Stage = stage
		t.UpdatedAt = time.Now()
	}
	if percent > m.percents[taskID] {
		m.percents[taskID] = percent
	}
	m.mu.Unlock()
	m.bus.Publish(events.Event{
		TaskID:  taskID,
		Stage:   string(stage),
		Percent: percent,
		Message: message,
	})
}

func (m *Manager) newTask(req research.Request) *research.Task {
	now := time.Now()
	return &research.Task{
		ID:                uuid.NewString(),
		Subject:           req.Subject,
		Depth:             req.Depth,
		RequestedSections: req.EffectiveSections(),
		Status:            research.StatusPending,
		Stage:             research.StagePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func (m *Manager) enqueue(t *research.Task) {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	m.queue = append(m.queue, t.ID)
	m.cond.Signal()
	m.mu.Unlock()
	m.tele.RecordTaskSubmitted()
	m.bus.Publish(events.Event{TaskID: t.ID, Stage: string(research.StagePending), Message: "queued"})
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		id, ok := m.next()
		if !ok {
			return
		}
		m.runTask(id)
	}
}

func (m *Manager) next() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return "", false
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	return id, true
}

func (m *Manager) runTask(id string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status != research.StatusPending {
		// cancelled while queued
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancels[id] = cancel
	t.Status = research.StatusRunning
	t.UpdatedAt = time.Now()
	work := t.Clone()
	m.mu.Unlock()

	m.runner.Run(ctx, work)

	m.mu.Lock()
	delete(m.cancels, id)
	m.tasks[id] = work
	m.mu.Unlock()
	cancel()
	m.finalize(work)
}

// finalize persists a terminal task and emits the closing event.
func (m *Manager) finalize(t *research.Task) {
	if err := m.repo.SaveTask(context.Background(), t); err != nil {
		m.logger.Printf("[MGR] persist terminal task %s: %v", t.ID, err)
	}
	if t.Status == research.StatusCancelled && t.Stage == research.StagePending {
		// cancelled before a worker picked it up; pipeline never counted it
		m.tele.RecordTaskTerminal(string(t.Status))
	}
	// percent must never regress, so a task that stopped mid-run closes at
	// its last published percent
	m.mu.Lock()
	percent := m.percents[t.ID]
	delete(m.percents, t.ID)
	m.mu.Unlock()
	if t.Status.Success() {
		percent = 100
	}
	m.bus.Publish(events.Event{
		TaskID:   t.ID,
		Stage:    string(t.Stage),
		Percent:  percent,
		Status:   string(t.Status),
		Message:  t.Error,
		Terminal: true,
	})
	m.logger.Printf("[MGR] task %s finished: %s", t.ID, t.Status)
}
