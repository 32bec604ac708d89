package research

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/capability"
)

type stubAgent struct {
	kind  SectionKind
	calls int32
	run   func(ctx context.Context, call int32, task AgentTask) (SpecialistResult, error)
}

func (a *stubAgent) Kind() SectionKind { return a.kind }

func (a *stubAgent) Run(ctx context.Context, task AgentTask) (SpecialistResult, error) {
	call := atomic.AddInt32(&a.calls, 1)
	return a.run(ctx, call, task)
}

func okAgent(kind SectionKind, findings string) *stubAgent {
	return &stubAgent{kind: kind, run: func(_ context.Context, _ int32, _ AgentTask) (SpecialistResult, error) {
		return SpecialistResult{AgentKind: kind, Findings: findings}, nil
	}}
}

func newTestSupervisor(agents map[SectionKind]Agent, timeout time.Duration, retry RetryPolicy) *Supervisor {
	return NewSupervisor(agents, 2, timeout, retry, nil, nil)
}

func TestSupervisorFanOut(t *testing.T) {
	agents := map[SectionKind]Agent{
		SectionFinancial: okAgent(SectionFinancial, "financial findings"),
		SectionMarket:    okAgent(SectionMarket, "market findings"),
	}
	sup := newTestSupervisor(agents, time.Second, RetryPolicy{})
	results, err := sup.Run(context.Background(), Subject{Name: "Acme"}, []SectionKind{SectionFinancial, SectionMarket}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[SectionMarket].Findings != "market findings" {
		t.Fatalf("unexpected market findings: %q", results[SectionMarket].Findings)
	}
}

func TestSupervisorUnknownSectionIsConfigurationError(t *testing.T) {
	sup := newTestSupervisor(map[SectionKind]Agent{SectionFinancial: okAgent(SectionFinancial, "ok")}, time.Second, RetryPolicy{})
	_, err := sup.Run(context.Background(), Subject{Name: "Acme"}, []SectionKind{SectionFinancial, SectionNews}, nil)
	if err == nil {
		t.Fatalf("expected error for unregistered section")
	}
	if !IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestSupervisorRetriesTransientErrors(t *testing.T) {
	agent := &stubAgent{kind: SectionNews, run: func(_ context.Context, call int32, _ AgentTask) (SpecialistResult, error) {
		if call < 3 {
			return SpecialistResult{}, capability.ErrUnavailable
		}
		return SpecialistResult{AgentKind: SectionNews, Findings: "third time lucky"}, nil
	}}
	sup := newTestSupervisor(map[SectionKind]Agent{SectionNews: agent}, time.Second, RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})
	results, err := sup.Run(context.Background(), Subject{Name: "Acme"}, []SectionKind{SectionNews}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := results[SectionNews].Findings; got != "third time lucky" {
		t.Fatalf("unexpected findings after retries: %q", got)
	}
	if agent.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", agent.calls)
	}
}

func TestSupervisorExhaustedRetriesBecomeGap(t *testing.T) {
	agent := &stubAgent{kind: SectionMarket, run: func(_ context.Context, _ int32, _ AgentTask) (SpecialistResult, error) {
		return SpecialistResult{}, capability.ErrUnavailable
	}}
	sup := newTestSupervisor(map[SectionKind]Agent{SectionMarket: agent}, time.Second, RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond})
	results, err := sup.Run(context.Background(), Subject{Name: "Acme"}, []SectionKind{SectionMarket}, nil)
	if err != nil {
		t.Fatalf("agent failure must not fail the run: %v", err)
	}
	res := results[SectionMarket]
	if agent.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", agent.calls)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Kind != GapUnavailable {
		t.Fatalf("expected one unavailable gap, got %+v", res.Gaps)
	}
	if res.Findings != "" {
		t.Fatalf("gap result must carry no findings")
	}
}

func TestSupervisorTimeoutBecomesGap(t *testing.T) {
	agent := &stubAgent{kind: SectionCompetitive, run: func(ctx context.Context, _ int32, _ AgentTask) (SpecialistResult, error) {
		<-ctx.Done()
		return SpecialistResult{}, ctx.Err()
	}}
	sup := newTestSupervisor(map[SectionKind]Agent{SectionCompetitive: agent}, 20*time.Millisecond, RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})
	results, err := sup.Run(context.Background(), Subject{Name: "Acme"}, []SectionKind{SectionCompetitive}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res := results[SectionCompetitive]
	if agent.calls != 1 {
		t.Fatalf("timeouts must not be retried, got %d attempts", agent.calls)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Kind != GapTimeout {
		t.Fatalf("expected a timeout gap, got %+v", res.Gaps)
	}
	if res.Gaps[0].Detail != "data unavailable: timed out" {
		t.Fatalf("unexpected gap detail: %q", res.Gaps[0].Detail)
	}
}

func TestSupervisorHintsReachAgent(t *testing.T) {
	var seen []string
	agent := &stubAgent{kind: SectionFinancial, run: func(_ context.Context, _ int32, task AgentTask) (SpecialistResult, error) {
		seen = task.Hints
		return SpecialistResult{AgentKind: SectionFinancial, Findings: "ok"}, nil
	}}
	sup := newTestSupervisor(map[SectionKind]Agent{SectionFinancial: agent}, time.Second, RetryPolicy{})
	hints := map[SectionKind][]string{SectionFinancial: {"missing quantitative data"}}
	if _, err := sup.Run(context.Background(), Subject{Name: "Acme"}, []SectionKind{SectionFinancial}, hints); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 || seen[0] != "missing quantitative data" {
		t.Fatalf("hints not forwarded, got %v", seen)
	}
}

func TestRetryPolicyDelayGrows(t *testing.T) {
	p := RetryPolicy{Backoff: 100 * time.Millisecond}
	if p.Delay(0) != 100*time.Millisecond || p.Delay(1) != 200*time.Millisecond || p.Delay(2) != 400*time.Millisecond {
		t.Fatalf("unexpected backoff curve: %v %v %v", p.Delay(0), p.Delay(1), p.Delay(2))
	}
}

func TestRetryableClassification(t *testing.T) {
	if !capability.Retryable(capability.ErrUnavailable) {
		t.Fatalf("ErrUnavailable must be retryable")
	}
	if capability.Retryable(errors.New("schema mismatch")) {
		t.Fatalf("arbitrary errors must not be retryable")
	}
}
