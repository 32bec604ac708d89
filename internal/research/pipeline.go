package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/capability"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/telemetry"
)

// ProgressPublisher receives stage transitions for a running task. Percent is
// monotonically non-decreasing per task. Implementations must not block.
type ProgressPublisher interface {
	Publish(taskID string, stage Stage, percent int, message string)
}

// Pipeline drives one task through gather, extract, score, refine and
// synthesize. It owns the task record for the duration of Run and always
// leaves it in a terminal status.
type Pipeline struct {
	sup       *Supervisor
	scorer    Scorer
	gen       capability.Generator
	costFn    func(capability.Generation) float64
	threshold int
	weights   map[SectionKind]float64
	progress  ProgressPublisher
	logger    *log.Logger
	tele      *telemetry.Telemetry
	tracer    trace.Tracer
}

// NewPipeline assembles the stage machine. The progress publisher, cost
// function and telemetry may be nil.
func NewPipeline(sup *Supervisor, scorer Scorer, gen capability.Generator, costFn func(capability.Generation) float64, threshold int, weights map[SectionKind]float64, progress ProgressPublisher, logger *log.Logger, tele *telemetry.Telemetry) *Pipeline {
	if threshold <= 0 || threshold > 100 {
		threshold = 85
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		sup:       sup,
		scorer:    scorer,
		gen:       gen,
		costFn:    costFn,
		threshold: threshold,
		weights:   weights,
		progress:  progress,
		logger:    logger,
		tele:      tele,
		tracer:    otel.Tracer("dossier/research"),
	}
}

// Run executes the task to a terminal status. Cancellation is cooperative and
// checked at every stage transition; a cancelled task keeps whatever partial
// results it had accumulated.
func (p *Pipeline) Run(ctx context.Context, task *Task) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.subject", task.Subject.Name),
		attribute.String("task.depth", string(task.Depth)),
	))
	defer span.End()

	task.Status = StatusRunning
	if task.Partial == nil {
		task.Partial = make(map[SectionKind]*SectionResult, len(task.RequestedSections))
	}

	var (
		maxIter     = task.Depth.MaxIterations()
		sections    = task.RequestedSections
		pending     = sections
		hints       = map[SectionKind][]string{}
		scores      = make(map[SectionKind]int, len(sections))
		lastPct     = 0
		totalTokens int64
		totalCost   float64
	)
	setStage := func(stage Stage, pct int, msg string) {
		task.Stage = stage
		task.UpdatedAt = time.Now()
		if pct < lastPct {
			pct = lastPct
		}
		lastPct = pct
		if p.progress != nil {
			p.progress.Publish(task.ID, stage, pct, msg)
		}
	}

	// iter counts refinement passes; the initial gather is pass 0 and the
	// depth cap bounds refinements only.
	for iter := 0; ; iter++ {
		if p.cancelled(ctx, task, span) {
			return
		}
		task.Iteration = iter
		if iter == 0 {
			setStage(StageGathering, 10, "dispatching specialist agents")
		} else {
			p.tele.RecordIteration()
			setStage(StageRefining, 45+iter*10, fmt.Sprintf("refining %d deficient sections (iteration %d)", len(pending), iter))
		}

		results, err := p.sup.Run(ctx, task.Subject, pending, hints)
		if err != nil {
			if ctx.Err() != nil {
				p.cancelled(ctx, task, span)
				return
			}
			p.fail(task, span, err)
			return
		}

		if p.cancelled(ctx, task, span) {
			return
		}
		setStage(StageExtracting, 30, "normalizing specialist findings")
		prevBest := make(map[SectionKind]*SectionResult, len(pending))
		for _, kind := range pending {
			if cur := task.Partial[kind]; cur != nil {
				c := *cur
				prevBest[kind] = &c
			}
		}
		for _, kind := range pending {
			res := results[kind]
			totalTokens += res.TokensUsed
			totalCost += res.Cost
			p.merge(task, kind, res, iter)
		}

		if p.cancelled(ctx, task, span) {
			return
		}
		setStage(StageScoring, 40+iter*5, "scoring sections")
		for _, kind := range pending {
			sr := task.Partial[kind]
			content := ""
			if sr != nil {
				content = sr.Content
			}
			score, defs, err := p.scorer.Score(ctx, kind, content)
			if err != nil {
				// scoring fault is fatal to this refinement attempt only;
				// the previous iteration's content and score stand
				if pb := prevBest[kind]; pb != nil && pb.Score > 0 {
					p.logger.Printf("[PIPE] task %s: scoring %s failed, reverting to iteration %d content (score %d): %v", task.ID, kind, pb.Iteration, pb.Score, err)
					task.Partial[kind] = pb
					scores[kind] = pb.Score
					continue
				}
				p.fail(task, span, fmt.Errorf("scoring section %s: %w", kind, err))
				return
			}
			if sr != nil {
				sr.Score = score
				sr.Deficiencies = defs
			}
			scores[kind] = score
		}
		agg := AggregateScore(scores, p.weights)
		task.QualityScore = &agg
		span.AddEvent("scored", trace.WithAttributes(attribute.Int("quality", agg), attribute.Int("iteration", iter)))

		if agg >= p.threshold {
			break
		}
		var deficient []SectionKind
		nextHints := map[SectionKind][]string{}
		for _, kind := range sections {
			if scores[kind] < p.threshold {
				deficient = append(deficient, kind)
				if sr := task.Partial[kind]; sr != nil {
					nextHints[kind] = sr.Deficiencies
				}
			}
		}
		if iter >= maxIter || len(deficient) == 0 {
			// iteration cap reached; remaining deficiencies become gaps, not failures
			for _, kind := range deficient {
				sr := task.Partial[kind]
				if sr == nil {
					continue
				}
				sr.Gaps = append(sr.Gaps, Gap{
					Section: kind,
					Kind:    GapUnavailable,
					Detail:  fmt.Sprintf("quality below threshold (score %d) at the refinement cap for depth %s", sr.Score, task.Depth),
				})
			}
			break
		}
		pending = deficient
		hints = nextHints
	}

	if p.cancelled(ctx, task, span) {
		return
	}
	setStage(StageSynthesizing, 85, "composing report")
	report := p.synthesize(ctx, task)
	report.TokensUsed = totalTokens
	report.CostEstimate = totalCost
	task.Result = report

	status := StatusCompleted
	if len(report.Gaps) > 0 {
		status = StatusCompletedWithGaps
	}
	setStage(StageDone, 100, "report ready")
	p.finish(task, status, "")
	span.SetAttributes(attribute.String("task.status", string(status)))
}

// merge applies one specialist result to the task's section state. Later
// results supersede earlier content, except that a result with no findings
// never erases content from a previous iteration. Gaps and conflicts
// accumulate across iterations.
func (p *Pipeline) merge(task *Task, kind SectionKind, res SpecialistResult, iter int) {
	prev := task.Partial[kind]
	if res.Findings == "" && prev != nil && prev.Content != "" {
		prev.Gaps = append(prev.Gaps, res.Gaps...)
		prev.Conflicts = append(prev.Conflicts, res.Conflicts...)
		prev.UpdatedAt = time.Now()
		return
	}
	sr := &SectionResult{
		Kind:      kind,
		Content:   res.Findings,
		Gaps:      res.Gaps,
		Conflicts: res.Conflicts,
		Sources:   res.Sources,
		Iteration: iter,
		UpdatedAt: time.Now(),
	}
	if prev != nil {
		sr.Conflicts = append(append([]Conflict(nil), prev.Conflicts...), res.Conflicts...)
	}
	task.Partial[kind] = sr
}

// synthesize renders the final report from the per-section state. A capability
// failure here degrades to a mechanical summary rather than failing the task.
func (p *Pipeline) synthesize(ctx context.Context, task *Task) *Report {
	report := &Report{
		Subject:     task.Subject,
		GeneratedAt: time.Now(),
	}
	for _, sr := range task.SortedSections() {
		report.Sections = append(report.Sections, ReportSection{
			Kind:    sr.Kind,
			Content: sr.Content,
			Score:   sr.Score,
			Sources: sr.Sources,
		})
		report.Gaps = append(report.Gaps, sr.Gaps...)
		report.Conflicts = append(report.Conflicts, sr.Conflicts...)
	}

	report.Summary = p.mechanicalSummary(task)
	if p.gen != nil {
		gen, err := p.gen.Generate(ctx, p.summaryPrompt(task))
		if err == nil && strings.TrimSpace(gen.Text) != "" {
			report.Summary = strings.TrimSpace(gen.Text)
			report.TokensUsed += gen.InputTokens + gen.OutputTokens
			if p.costFn != nil {
				report.CostEstimate += p.costFn(gen)
			}
		} else if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Printf("[PIPE] task %s: synthesis generation failed, using mechanical summary: %v", task.ID, err)
		}
	}
	return report
}

func (p *Pipeline) summaryPrompt(task *Task) string {
	var b strings.Builder
	b.WriteString("Write a concise executive summary of the research below on ")
	b.WriteString(task.Subject.String())
	b.WriteString(". Lead with the most decision-relevant facts.\n")
	for _, sr := range task.SortedSections() {
		fmt.Fprintf(&b, "\n## %s\n%s\n", sr.Kind, sr.Content)
	}
	return b.String()
}

// mechanicalSummary is the degraded path: first sentences of each section.
func (p *Pipeline) mechanicalSummary(task *Task) string {
	var parts []string
	for _, sr := range task.SortedSections() {
		if sr.Content == "" {
			continue
		}
		parts = append(parts, firstSentences(sr.Content, 2))
	}
	if len(parts) == 0 {
		return "No findings were produced for " + task.Subject.String() + "."
	}
	return strings.Join(parts, " ")
}

func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return text[:i+1]
			}
		}
	}
	return text
}

func (p *Pipeline) cancelled(ctx context.Context, task *Task, span trace.Span) bool {
	if ctx.Err() == nil {
		return false
	}
	p.logger.Printf("[PIPE] task %s cancelled at stage %s", task.ID, task.Stage)
	span.SetAttributes(attribute.String("task.status", string(StatusCancelled)))
	p.finish(task, StatusCancelled, "")
	return true
}

func (p *Pipeline) fail(task *Task, span trace.Span, err error) {
	p.logger.Printf("[PIPE] task %s failed: %v", task.ID, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.finish(task, StatusFailed, err.Error())
}

func (p *Pipeline) finish(task *Task, status Status, errMsg string) {
	now := time.Now()
	task.Status = status
	task.Error = errMsg
	task.UpdatedAt = now
	task.CompletedAt = &now
	p.tele.RecordTaskTerminal(string(status))
}
