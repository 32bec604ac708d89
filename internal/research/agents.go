package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/capability"
)

// AgentTask is one unit of work handed to a specialist agent. Hints carry the
// scorer's deficiency notes when the section is being refined.
type AgentTask struct {
	Subject Subject
	Section SectionKind
	Hints   []string
}

// Agent is a specialist that researches one section kind for a subject.
type Agent interface {
	Kind() SectionKind
	Run(ctx context.Context, task AgentTask) (SpecialistResult, error)
}

// agent findings markers, emitted by the model per the prompt contract
const (
	notApplicableMarker = "NOT_APPLICABLE:"
	conflictMarker      = "CONFLICT:"
)

type agentProfile struct {
	queryTemplate string
	briefing      string
}

var agentProfiles = map[SectionKind]agentProfile{
	SectionFinancial: {
		queryTemplate: "%s revenue profit financial results",
		briefing: "You are a financial analyst. Summarize the subject's revenue, " +
			"profitability, growth trajectory and funding with concrete figures.",
	},
	SectionMarket: {
		queryTemplate: "%s market size share industry trends",
		briefing: "You are a market analyst. Describe the subject's market, its size, " +
			"the subject's share and the trends shaping it, with numbers where possible.",
	},
	SectionCompetitive: {
		queryTemplate: "%s competitors competitive positioning",
		briefing: "You are a competitive intelligence analyst. Name the subject's main " +
			"competitors and explain its positioning and advantages.",
	},
	SectionNews: {
		queryTemplate: "%s latest news announcements",
		briefing: "You are a news analyst. Report the most recent notable announcements " +
			"and events involving the subject, with dates.",
	},
}

// SectionAgent is the standard specialist: search for sources, then ask the
// generator to produce findings grounded in them.
type SectionAgent struct {
	kind     SectionKind
	gen      capability.Generator
	search   capability.Searcher
	fetcher  *capability.PageFetcher
	costPerK func(capability.Generation) float64
	logger   *log.Logger
}

// NewAgents builds one specialist per known section kind, sharing the given
// capability ports. The fetcher and cost function may be nil.
func NewAgents(gen capability.Generator, search capability.Searcher, fetcher *capability.PageFetcher, cost func(capability.Generation) float64, logger *log.Logger) map[SectionKind]Agent {
	if logger == nil {
		logger = log.Default()
	}
	agents := make(map[SectionKind]Agent, len(AllSections()))
	for _, kind := range AllSections() {
		agents[kind] = &SectionAgent{
			kind:     kind,
			gen:      gen,
			search:   search,
			fetcher:  fetcher,
			costPerK: cost,
			logger:   logger,
		}
	}
	return agents
}

func (a *SectionAgent) Kind() SectionKind { return a.kind }

// Run executes one search-then-generate pass. Capability errors propagate to
// the caller so the supervisor can apply its retry policy; a clean run with
// thin evidence comes back as a result with gaps instead.
func (a *SectionAgent) Run(ctx context.Context, task AgentTask) (SpecialistResult, error) {
	res := SpecialistResult{AgentKind: a.kind}

	query := fmt.Sprintf(agentProfiles[a.kind].queryTemplate, task.Subject.String())
	for _, hint := range task.Hints {
		if term, ok := strings.CutPrefix(hint, "missing coverage of "); ok {
			query += " " + term
		}
	}

	hits, err := a.search.Search(ctx, query)
	if err != nil {
		if capability.Retryable(err) || errors.Is(err, capability.ErrTimeout) {
			return res, err
		}
		a.logger.Printf("[AGENT:%s] search degraded for %q: %v", a.kind, task.Subject.Name, err)
		res.Gaps = append(res.Gaps, Gap{Section: a.kind, Kind: GapUnavailable, Detail: "search unavailable: " + err.Error()})
	}
	if err == nil && len(hits) == 0 {
		res.Gaps = append(res.Gaps, Gap{Section: a.kind, Kind: GapUnavailable, Detail: "no sources found for query"})
	}
	for _, h := range hits {
		res.Sources = append(res.Sources, Source{Title: h.Title, URL: h.URL, Snippet: h.Snippet})
	}
	a.enrich(ctx, res.Sources)

	gen, err := a.gen.Generate(ctx, a.buildPrompt(task, res.Sources))
	if err != nil {
		return res, err
	}
	res.TokensUsed = gen.InputTokens + gen.OutputTokens
	if a.costPerK != nil {
		res.Cost = a.costPerK(gen)
	}

	findings, gaps, conflicts := parseFindings(a.kind, gen.Text)
	res.Findings = findings
	res.Gaps = append(res.Gaps, gaps...)
	res.Conflicts = conflicts
	res.Confidence = confidenceFor(len(res.Sources), len(res.Gaps))
	return res, nil
}

// enrich swaps the top sources' search snippets for their readable page text.
// Fetch failures keep the snippet; they never fail the agent.
func (a *SectionAgent) enrich(ctx context.Context, sources []Source) {
	if a.fetcher == nil {
		return
	}
	for i := range sources {
		if i >= 2 {
			break
		}
		text, err := a.fetcher.ReadableText(ctx, sources[i].URL)
		if err != nil {
			a.logger.Printf("[AGENT:%s] fetch %s: %v", a.kind, sources[i].URL, err)
			continue
		}
		if text != "" {
			sources[i].Snippet = text
		}
	}
}

func (a *SectionAgent) buildPrompt(task AgentTask, sources []Source) string {
	var b strings.Builder
	b.WriteString(agentProfiles[a.kind].briefing)
	b.WriteString("\n\nSubject: ")
	b.WriteString(task.Subject.String())
	b.WriteString("\n")
	if len(task.Hints) > 0 {
		b.WriteString("\nA previous draft was judged deficient. Address these points:\n")
		for _, h := range task.Hints {
			b.WriteString("- " + h + "\n")
		}
	}
	if len(sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, s := range sources {
			fmt.Fprintf(&b, "[%d] %s (%s): %s\n", i+1, s.Title, s.URL, s.Snippet)
		}
		b.WriteString("\nGround every claim in the sources above.")
	} else {
		b.WriteString("\nNo sources are available; state clearly what cannot be verified.")
	}
	b.WriteString("\nIf a requested data point genuinely does not apply to this subject, " +
		"emit a line starting with " + notApplicableMarker + " naming it.")
	b.WriteString("\nIf sources contradict each other on a fact, keep both claims and emit a " +
		"line starting with " + conflictMarker + " describing the contradiction.")
	return b.String()
}

// parseFindings splits marker lines out of the model output. Marker lines are
// removed from the prose; everything else passes through untouched.
func parseFindings(kind SectionKind, text string) (string, []Gap, []Conflict) {
	var (
		kept      []string
		gaps      []Gap
		conflicts []Conflict
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, notApplicableMarker):
			detail := strings.TrimSpace(strings.TrimPrefix(trimmed, notApplicableMarker))
			gaps = append(gaps, Gap{Section: kind, Kind: GapNotApplicable, Detail: detail})
		case strings.HasPrefix(trimmed, conflictMarker):
			desc := strings.TrimSpace(strings.TrimPrefix(trimmed, conflictMarker))
			conflicts = append(conflicts, Conflict{Section: kind, Description: desc})
		default:
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), gaps, conflicts
}

func confidenceFor(sources, gaps int) float64 {
	c := 0.5
	switch {
	case sources >= 5:
		c = 0.9
	case sources >= 2:
		c = 0.75
	case sources == 1:
		c = 0.6
	}
	c -= 0.1 * float64(gaps)
	if c < 0.1 {
		c = 0.1
	}
	return c
}
