package store

import (
	"context"
	"sync"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
)

// Memory is the zero-dependency repository for tests and single-shot CLI runs.
type Memory struct {
	mu        sync.RWMutex
	tasks     map[string]*research.Task
	taskOrder []string
	batches   map[string]*research.Batch
}

func NewMemory() *Memory {
	return &Memory{
		tasks:   make(map[string]*research.Task),
		batches: make(map[string]*research.Batch),
	}
}

func (m *Memory) SaveTask(_ context.Context, t *research.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		m.taskOrder = append(m.taskOrder, t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetTask(_ context.Context, id string) (*research.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, research.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) ListTasks(_ context.Context, f TaskFilter) ([]*research.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*research.Task
	for _, id := range m.taskOrder {
		t := m.tasks[id]
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return page(out, f.Offset, f.Limit), nil
}

func (m *Memory) SaveBatch(_ context.Context, b *research.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	c.TaskIDs = append([]string(nil), b.TaskIDs...)
	m.batches[b.ID] = &c
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*research.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, research.ErrNotFound
	}
	c := *b
	c.TaskIDs = append([]string(nil), b.TaskIDs...)
	return &c, nil
}

func (m *Memory) Close() error { return nil }
