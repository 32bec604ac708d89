package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
)

func sampleTask(id, subject string, status research.Status, created time.Time) *research.Task {
	return &research.Task{
		ID:                id,
		Subject:           research.Subject{Name: subject},
		Depth:             research.DepthStandard,
		RequestedSections: []research.SectionKind{research.SectionFinancial},
		Status:            status,
		Stage:             research.StagePending,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()

	task := sampleTask("t1", "Acme", research.StatusPending, time.Now())
	if err := repo.SaveTask(ctx, task); err != nil {
		t.Fatalf("save: %v", err)
	}

	// mutating the original must not leak into the stored copy
	task.Status = research.StatusFailed

	got, err := repo.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != research.StatusPending {
		t.Fatalf("stored task mutated externally, status = %s", got.Status)
	}
}

func TestMemoryGetTaskNotFound(t *testing.T) {
	repo := NewMemory()
	if _, err := repo.GetTask(context.Background(), "missing"); !errors.Is(err, research.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryListTasksFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	base := time.Now()
	repo.SaveTask(ctx, sampleTask("t1", "Acme Robotics", research.StatusCompleted, base))
	repo.SaveTask(ctx, sampleTask("t2", "Globex", research.StatusPending, base.Add(time.Second)))
	repo.SaveTask(ctx, sampleTask("t3", "Acme Labs", research.StatusPending, base.Add(2*time.Second)))

	all, err := repo.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t1" || all[2].ID != "t3" {
		t.Fatalf("insertion order broken: %+v", ids(all))
	}

	acme, _ := repo.ListTasks(ctx, TaskFilter{Subject: "acme"})
	if len(acme) != 2 {
		t.Fatalf("subject filter returned %v", ids(acme))
	}

	pending, _ := repo.ListTasks(ctx, TaskFilter{Status: research.StatusPending})
	if len(pending) != 2 || pending[0].ID != "t2" {
		t.Fatalf("status filter returned %v", ids(pending))
	}

	paged, _ := repo.ListTasks(ctx, TaskFilter{Offset: 1, Limit: 1})
	if len(paged) != 1 || paged[0].ID != "t2" {
		t.Fatalf("pagination returned %v", ids(paged))
	}
}

func TestMemoryListTasksTimeRange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo.SaveTask(ctx, sampleTask("t1", "Acme", research.StatusCompleted, base))
	repo.SaveTask(ctx, sampleTask("t2", "Acme", research.StatusCompleted, base.Add(time.Hour)))
	repo.SaveTask(ctx, sampleTask("t3", "Acme", research.StatusCompleted, base.Add(2*time.Hour)))

	from, _ := repo.ListTasks(ctx, TaskFilter{CreatedFrom: base.Add(time.Hour)})
	if len(from) != 2 || from[0].ID != "t2" {
		t.Fatalf("created-from filter returned %v", ids(from))
	}

	to, _ := repo.ListTasks(ctx, TaskFilter{CreatedTo: base.Add(time.Hour)})
	if len(to) != 2 || to[1].ID != "t2" {
		t.Fatalf("created-to filter returned %v", ids(to))
	}

	window, _ := repo.ListTasks(ctx, TaskFilter{
		CreatedFrom: base.Add(30 * time.Minute),
		CreatedTo:   base.Add(90 * time.Minute),
	})
	if len(window) != 1 || window[0].ID != "t2" {
		t.Fatalf("time window returned %v", ids(window))
	}
}

func TestMemoryBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	b := &research.Batch{ID: "b1", TaskIDs: []string{"t1", "t2"}, CreatedAt: time.Now()}
	if err := repo.SaveBatch(ctx, b); err != nil {
		t.Fatalf("save batch: %v", err)
	}
	got, err := repo.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if len(got.TaskIDs) != 2 {
		t.Fatalf("unexpected batch: %+v", got)
	}
	if _, err := repo.GetBatch(ctx, "nope"); !errors.Is(err, research.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func ids(tasks []*research.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
