// Package store persists task and batch records. The manager treats the
// repository as a write-through journal: the in-memory registry stays
// authoritative for running tasks, the repository survives restarts.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
)

// TaskFilter narrows ListTasks. Zero values mean "no constraint"; a zero
// Limit returns everything from Offset on. The time bounds are inclusive and
// apply to the task's creation time.
type TaskFilter struct {
	Status      research.Status
	Subject     string // case-insensitive substring match on the subject name
	CreatedFrom time.Time
	CreatedTo   time.Time
	Offset      int
	Limit       int
}

// Repository is the persistence port. Implementations map missing records to
// research.ErrNotFound. ListTasks returns tasks in insertion order.
type Repository interface {
	SaveTask(ctx context.Context, t *research.Task) error
	GetTask(ctx context.Context, id string) (*research.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*research.Task, error)
	SaveBatch(ctx context.Context, b *research.Batch) error
	GetBatch(ctx context.Context, id string) (*research.Batch, error)
	Close() error
}

// Matches reports whether a task satisfies the filter's field constraints.
// Offset and Limit are paging concerns and are not consulted here.
func (f TaskFilter) Matches(t *research.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Subject != "" && !strings.Contains(strings.ToLower(t.Subject.Name), strings.ToLower(f.Subject)) {
		return false
	}
	if !f.CreatedFrom.IsZero() && t.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedTo.IsZero() && t.CreatedAt.After(f.CreatedTo) {
		return false
	}
	return true
}

// page applies offset and limit to an already filtered, ordered slice.
func page(tasks []*research.Task, offset, limit int) []*research.Task {
	if offset >= len(tasks) {
		return nil
	}
	tasks = tasks[offset:]
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}
