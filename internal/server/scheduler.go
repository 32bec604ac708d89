package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/Ai-Whisperers/LangAi-sub013/config"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/manager"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
)

// Scheduler re-researches watchlist subjects on their cron schedules. With a
// redis client it takes a short-lived lock per entry and tick so that only
// one replica submits the task.
type Scheduler struct {
	mgr     *manager.Manager
	rdb     *redis.Client
	logger  *log.Logger
	tick    time.Duration
	entries []watchEntry
}

type watchEntry struct {
	cfg     config.WatchEntry
	expr    *cronexpr.Expression
	lastRun time.Time
}

func NewScheduler(cfg config.WatchlistConfig, mgr *manager.Manager, rdb *redis.Client, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	tick := cfg.Interval
	if tick <= 0 {
		tick = 30 * time.Second
	}
	s := &Scheduler{mgr: mgr, rdb: rdb, logger: logger, tick: tick}
	now := time.Now()
	for _, e := range cfg.Entries {
		expr, err := cronexpr.Parse(e.Cron)
		if err != nil {
			return nil, fmt.Errorf("watchlist entry %q: parse cron %q: %w", e.Subject, e.Cron, err)
		}
		s.entries = append(s.entries, watchEntry{cfg: e, expr: expr, lastRun: now})
	}
	return s, nil
}

// Run blocks until the context is done.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}
	s.logger.Printf("[SCHED] watching %d subjects", len(s.entries))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweep(ctx, now)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, now time.Time) {
	for i := range s.entries {
		e := &s.entries[i]
		next := e.expr.Next(e.lastRun)
		if next.IsZero() || next.After(now) {
			continue
		}
		e.lastRun = now
		if !s.acquire(ctx, e.cfg.Subject, next) {
			continue
		}
		req := research.Request{
			Subject: research.Subject{Name: e.cfg.Subject},
			Depth:   research.Depth(e.cfg.Depth),
		}
		for _, sec := range e.cfg.Sections {
			req.Sections = append(req.Sections, research.SectionKind(sec))
		}
		id, err := s.mgr.Submit(ctx, req)
		if err != nil {
			s.logger.Printf("[SCHED] submit %q: %v", e.cfg.Subject, err)
			continue
		}
		s.logger.Printf("[SCHED] refreshed %q as task %s", e.cfg.Subject, id)
	}
}

// acquire takes the per-occurrence distributed lock. Without redis, the
// scheduler assumes a single replica and always wins.
func (s *Scheduler) acquire(ctx context.Context, subject string, occurrence time.Time) bool {
	if s.rdb == nil {
		return true
	}
	key := fmt.Sprintf("dossier:sched:%s:%d", subject, occurrence.Unix())
	ok, err := s.rdb.SetNX(ctx, key, "1", time.Hour).Result()
	if err != nil {
		s.logger.Printf("[SCHED] lock %s: %v", key, err)
		return false
	}
	return ok
}
