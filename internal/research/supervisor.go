package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/capability"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/telemetry"
)

// RetryPolicy bounds how a failed specialist call is retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Delay returns the exponential backoff before retry attempt n (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Backoff
	if d <= 0 {
		d = time.Second
	}
	return d << uint(attempt)
}

// Supervisor fans a subject out to the specialist agents and collects their
// results. It never fails the whole task for a single agent's trouble; agents
// that cannot deliver are converted into gaps on their section.
type Supervisor struct {
	agents  map[SectionKind]Agent
	sem     chan struct{}
	retry   RetryPolicy
	timeout time.Duration
	logger  *log.Logger
	tele    *telemetry.Telemetry
}

// NewSupervisor wires the agent registry with a concurrency cap, a per-agent
// timeout and a retry policy for transient capability errors.
func NewSupervisor(agents map[SectionKind]Agent, maxConcurrent int, timeout time.Duration, retry RetryPolicy, logger *log.Logger, tele *telemetry.Telemetry) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Supervisor{
		agents:  agents,
		sem:     make(chan struct{}, maxConcurrent),
		retry:   retry,
		timeout: timeout,
		logger:  logger,
		tele:    tele,
	}
}

// Run dispatches one specialist per requested section concurrently and returns
// their results keyed by section. A section whose agent is not registered is a
// wiring fault and fails the whole call with a ConfigurationError before any
// agent is dispatched.
func (s *Supervisor) Run(ctx context.Context, subject Subject, sections []SectionKind, hints map[SectionKind][]string) (map[SectionKind]SpecialistResult, error) {
	for _, kind := range sections {
		if _, ok := s.agents[kind]; !ok {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("no agent registered for section %q", kind)}
		}
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[SectionKind]SpecialistResult, len(sections))
	)
	for _, kind := range sections {
		wg.Add(1)
		go func(kind SectionKind) {
			defer wg.Done()
			select {
			case s.sem <- struct{}{}:
				defer func() { <-s.sem }()
			case <-ctx.Done():
				return
			}
			res := s.runOne(ctx, s.agents[kind], AgentTask{Subject: subject, Section: kind, Hints: hints[kind]})
			mu.Lock()
			results[kind] = res
			mu.Unlock()
		}(kind)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// runOne executes a single agent with timeout and retry. It always returns a
// result: exhausted retries and timeouts degrade into gaps, never errors.
func (s *Supervisor) runOne(ctx context.Context, agent Agent, task AgentTask) SpecialistResult {
	kind := agent.Kind()
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			s.tele.RecordRetry(string(kind))
			select {
			case <-time.After(s.retry.Delay(attempt - 1)):
			case <-ctx.Done():
				return s.gapResult(kind, GapTimeout, "data unavailable: timed out")
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		res, err := agent.Run(callCtx, task)
		cancel()
		s.tele.ObserveAgentRun(string(kind), time.Since(start), err)

		if err == nil {
			return res
		}
		lastErr = err

		if errors.Is(err, capability.ErrTimeout) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			s.logger.Printf("[SUPER] agent %s timed out for %q (attempt %d)", kind, task.Subject.Name, attempt+1)
			return s.gapResult(kind, GapTimeout, "data unavailable: timed out")
		}
		if ctx.Err() != nil {
			return s.gapResult(kind, GapTimeout, "data unavailable: timed out")
		}
		if !capability.Retryable(err) {
			break
		}
		s.logger.Printf("[SUPER] agent %s transient failure for %q (attempt %d): %v", kind, task.Subject.Name, attempt+1, err)
	}

	s.logger.Printf("[SUPER] agent %s exhausted retries for %q: %v", kind, task.Subject.Name, lastErr)
	return s.gapResult(kind, GapUnavailable, "data unavailable: "+lastErr.Error())
}

func (s *Supervisor) gapResult(kind SectionKind, gapKind GapKind, detail string) SpecialistResult {
	s.tele.RecordGap(string(gapKind))
	return SpecialistResult{
		AgentKind: kind,
		Gaps:      []Gap{{Section: kind, Kind: gapKind, Detail: detail}},
		Error:     detail,
	}
}
