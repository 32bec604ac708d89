// Package events provides the in-process progress event bus. Each task has
// its own channel space; subscribers get a bounded buffer and slow consumers
// lose events rather than stalling the pipeline.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one progress update for a task. Seq is per-task and strictly
// increasing; Terminal marks the last event a task will ever emit.
type Event struct {
	Seq       int64     `json:"seq"`
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Status    string    `json:"status,omitempty"`
	Terminal  bool      `json:"terminal"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	defaultBufferSize  = 64
	defaultHistorySize = 256
	defaultRetention   = 5 * time.Minute
)

// Bus is an injected dependency, constructed once per process and passed to
// the task manager and API layer. Publish never blocks.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[chan Event]struct{}
	history map[string][]Event
	nextSeq map[string]int64
	closed  map[string]struct{}

	bufSize     int
	historySize int
	retention   time.Duration
	dropped     atomic.Int64
	onDrop      func()
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithHistorySize caps how many past events are replayed to late subscribers.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithDropHook installs a callback invoked once per dropped event.
func WithDropHook(fn func()) Option {
	return func(b *Bus) { b.onDrop = fn }
}

// WithRetention sets how long a terminated task's history and sequence state
// stay available for late subscribers before being evicted.
func WithRetention(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.retention = d
		}
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[string]map[chan Event]struct{}),
		history:     make(map[string][]Event),
		nextSeq:     make(map[string]int64),
		closed:      make(map[string]struct{}),
		bufSize:     defaultBufferSize,
		historySize: defaultHistorySize,
		retention:   defaultRetention,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers an event to every subscriber of the task. Subscribers whose
// buffer is full miss this event; delivery order per subscriber is otherwise
// the publish order. Publishing to a closed task is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if _, done := b.closed[ev.TaskID]; done {
		b.mu.Unlock()
		return
	}
	b.nextSeq[ev.TaskID]++
	ev.Seq = b.nextSeq[ev.TaskID]
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h := append(b.history[ev.TaskID], ev)
	if len(h) > b.historySize {
		h = h[len(h)-b.historySize:]
	}
	b.history[ev.TaskID] = h

	// non-blocking fan-out; holding the lock keeps sends ordered against
	// channel closes from CloseTask and subscriber cancels
	for ch := range b.subs[ev.TaskID] {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}

	if ev.Terminal {
		b.closeLocked(ev.TaskID)
	}
	b.mu.Unlock()
}

// Subscribe registers for a task's events. Past events still in the history
// window are replayed first. The returned cancel function is idempotent and
// must be called when the consumer is done. Subscribing to an already closed
// task yields the history and an immediately closed channel.
func (b *Bus) Subscribe(taskID string) (<-chan Event, func()) {
	b.mu.Lock()
	replay := b.history[taskID]
	ch := make(chan Event, b.bufSize+len(replay))
	for _, ev := range replay {
		ch <- ev
	}
	if _, done := b.closed[taskID]; done {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[taskID] == nil {
		b.subs[taskID] = make(map[chan Event]struct{})
	}
	b.subs[taskID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if set, ok := b.subs[taskID]; ok {
				if _, still := set[ch]; still {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, taskID)
				}
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// CloseTask marks a task terminal and closes every subscriber channel. Further
// publishes and subscriptions observe the closed state.
func (b *Bus) CloseTask(taskID string) {
	b.mu.Lock()
	if _, done := b.closed[taskID]; done {
		b.mu.Unlock()
		return
	}
	b.closeLocked(taskID)
	b.mu.Unlock()
}

// closeLocked marks the task terminal, closes its subscribers and schedules
// the eviction of its history, sequence and closed entries so bus memory does
// not grow with every task the process ever ran.
func (b *Bus) closeLocked(taskID string) {
	b.closed[taskID] = struct{}{}
	for ch := range b.subs[taskID] {
		close(ch)
	}
	delete(b.subs, taskID)
	time.AfterFunc(b.retention, func() {
		b.mu.Lock()
		delete(b.history, taskID)
		delete(b.nextSeq, taskID)
		delete(b.closed, taskID)
		b.mu.Unlock()
	})
}

// Dropped reports how many events were lost to full subscriber buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
