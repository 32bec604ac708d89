package research

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SectionKind identifies one topical slice of a dossier.
type SectionKind string

const (
	SectionFinancial   SectionKind = "financial"
	SectionMarket      SectionKind = "market"
	SectionCompetitive SectionKind = "competitive"
	SectionNews        SectionKind = "news"
)

// AllSections returns the closed set of known section kinds in report order.
func AllSections() []SectionKind {
	return []SectionKind{SectionFinancial, SectionMarket, SectionCompetitive, SectionNews}
}

// ParseSectionKind validates a section name from an API request.
func ParseSectionKind(s string) (SectionKind, error) {
	kind := SectionKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range AllSections() {
		if kind == k {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "sections", Reason: fmt.Sprintf("unknown section kind: %q", s)}
}

// Depth controls how much refinement a task is allowed and which sections run
// when the request does not name any.
type Depth string

const (
	DepthQuick         Depth = "quick"
	DepthStandard      Depth = "standard"
	DepthComprehensive Depth = "comprehensive"
)

// ParseDepth validates a depth value from an API request.
func ParseDepth(s string) (Depth, error) {
	d := Depth(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DepthQuick, DepthStandard, DepthComprehensive:
		return d, nil
	}
	return "", &ValidationError{Field: "depth", Reason: fmt.Sprintf("unknown depth: %q", s)}
}

// MaxIterations is the refinement cap derived from depth.
func (d Depth) MaxIterations() int {
	switch d {
	case DepthQuick:
		return 1
	case DepthComprehensive:
		return 3
	default:
		return 2
	}
}

// DefaultSections picks the sections to research when a request names none.
func (d Depth) DefaultSections() []SectionKind {
	switch d {
	case DepthQuick:
		return []SectionKind{SectionFinancial}
	case DepthComprehensive:
		return AllSections()
	default:
		return []SectionKind{SectionFinancial, SectionMarket}
	}
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending           Status = "pending"
	StatusRunning           Status = "running"
	StatusCompleted         Status = "completed"
	StatusCompletedWithGaps Status = "completed_with_gaps"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithGaps, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Success reports whether a terminal status carries a result.
func (s Status) Success() bool {
	return s == StatusCompleted || s == StatusCompletedWithGaps
}

// Stage names the pipeline stage a task is in, for observability.
type Stage string

const (
	StagePending      Stage = "pending"
	StageGathering    Stage = "gathering"
	StageExtracting   Stage = "extracting"
	StageScoring      Stage = "scoring"
	StageRefining     Stage = "refining"
	StageSynthesizing Stage = "synthesizing"
	StageDone         Stage = "done"
)

// GapKind distinguishes why a data point could not be satisfied.
type GapKind string

const (
	GapUnavailable   GapKind = "unavailable"
	GapTimeout       GapKind = "timeout"
	GapNotApplicable GapKind = "not_applicable"
)

// Gap records a data point a specialist agent could not satisfy.
type Gap struct {
	Section SectionKind `json:"section"`
	Kind    GapKind     `json:"kind"`
	Detail  string      `json:"detail"`
}

// Conflict records contradictory claims that were retained rather than
// silently reconciled.
type Conflict struct {
	Section     SectionKind `json:"section"`
	Description string      `json:"description"`
	Claims      []string    `json:"claims,omitempty"`
}

// Source is one candidate source a finding was drawn from.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Subject identifies the entity under research.
type Subject struct {
	Name           string   `json:"name"`
	Disambiguators []string `json:"disambiguators,omitempty"`
}

func (s Subject) String() string {
	if len(s.Disambiguators) == 0 {
		return s.Name
	}
	return s.Name + " (" + strings.Join(s.Disambiguators, ", ") + ")"
}

// Request is an incoming research request, pre-validation.
type Request struct {
	Subject  Subject       `json:"subject"`
	Depth    Depth         `json:"depth"`
	Sections []SectionKind `json:"sections,omitempty"`
}

// Validate checks the request shape; returned errors satisfy
// errors.As(&ValidationError{}).
func (r Request) Validate() error {
	if strings.TrimSpace(r.Subject.Name) == "" {
		return &ValidationError{Field: "subject", Reason: "subject name must not be empty"}
	}
	if _, err := ParseDepth(string(r.Depth)); err != nil {
		return err
	}
	seen := make(map[SectionKind]struct{}, len(r.Sections))
	for _, s := range r.Sections {
		if _, err := ParseSectionKind(string(s)); err != nil {
			return err
		}
		if _, dup := seen[s]; dup {
			return &ValidationError{Field: "sections", Reason: fmt.Sprintf("duplicate section: %q", s)}
		}
		seen[s] = struct{}{}
	}
	return nil
}

// EffectiveSections returns the requested sections, or the depth defaults when
// the request named none.
func (r Request) EffectiveSections() []SectionKind {
	if len(r.Sections) > 0 {
		out := make([]SectionKind, len(r.Sections))
		copy(out, r.Sections)
		return out
	}
	return r.Depth.DefaultSections()
}

// SpecialistResult is one agent's contribution for a section. Owned by the
// supervisor invocation that produced it; only gaps and conflicts outlive the
// merge.
type SpecialistResult struct {
	AgentKind  SectionKind `json:"agent_kind"`
	Findings   string      `json:"findings"`
	Sources    []Source    `json:"sources,omitempty"`
	Confidence float64     `json:"confidence"`
	Gaps       []Gap       `json:"gaps,omitempty"`
	Conflicts  []Conflict  `json:"conflicts,omitempty"`
	TokensUsed int64       `json:"tokens_used"`
	Cost       float64     `json:"cost"`
	Error      string      `json:"error,omitempty"`
}

// SectionResult is the best-known content for one section of a task.
type SectionResult struct {
	Kind         SectionKind `json:"kind"`
	Content      string      `json:"content"`
	Score        int         `json:"score"`
	Deficiencies []string    `json:"deficiencies,omitempty"`
	Gaps         []Gap       `json:"gaps,omitempty"`
	Conflicts    []Conflict  `json:"conflicts,omitempty"`
	Sources      []Source    `json:"sources,omitempty"`
	Iteration    int         `json:"iteration"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Report is the final merged dossier for a task.
type Report struct {
	Subject      Subject         `json:"subject"`
	Summary      string          `json:"summary"`
	Sections     []ReportSection `json:"sections"`
	Gaps         []Gap           `json:"gaps,omitempty"`
	Conflicts    []Conflict      `json:"conflicts,omitempty"`
	TokensUsed   int64           `json:"tokens_used"`
	CostEstimate float64         `json:"cost_estimate"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// ReportSection is one rendered section of the final report.
type ReportSection struct {
	Kind    SectionKind `json:"kind"`
	Content string      `json:"content"`
	Score   int         `json:"score"`
	Sources []Source    `json:"sources,omitempty"`
}

// Task is one end-to-end research request for a single subject. The task
// manager owns the record exclusively until it reaches a terminal status.
type Task struct {
	ID                string                         `json:"id"`
	Subject           Subject                        `json:"subject"`
	Depth             Depth                          `json:"depth"`
	RequestedSections []SectionKind                  `json:"requested_sections"`
	Status            Status                         `json:"status"`
	Stage             Stage                          `json:"stage"`
	Iteration         int                            `json:"iteration"`
	QualityScore      *int                           `json:"quality_score,omitempty"`
	Partial           map[SectionKind]*SectionResult `json:"partial_results,omitempty"`
	Result            *Report                        `json:"result,omitempty"`
	Error             string                         `json:"error,omitempty"`
	CreatedAt         time.Time                      `json:"created_at"`
	UpdatedAt         time.Time                      `json:"updated_at"`
	CompletedAt       *time.Time                     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand across goroutine boundaries.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.RequestedSections = append([]SectionKind(nil), t.RequestedSections...)
	if t.QualityScore != nil {
		v := *t.QualityScore
		out.QualityScore = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		out.CompletedAt = &v
	}
	if t.Partial != nil {
		out.Partial = make(map[SectionKind]*SectionResult, len(t.Partial))
		for k, v := range t.Partial {
			c := *v
			c.Deficiencies = append([]string(nil), v.Deficiencies...)
			c.Gaps = append([]Gap(nil), v.Gaps...)
			c.Conflicts = append([]Conflict(nil), v.Conflicts...)
			c.Sources = append([]Source(nil), v.Sources...)
			out.Partial[k] = &c
		}
	}
	if t.Result != nil {
		r := *t.Result
		r.Sections = append([]ReportSection(nil), t.Result.Sections...)
		r.Gaps = append([]Gap(nil), t.Result.Gaps...)
		r.Conflicts = append([]Conflict(nil), t.Result.Conflicts...)
		out.Result = &r
	}
	return &out
}

// SortedSections returns the task's partial results in canonical report order.
func (t *Task) SortedSections() []*SectionResult {
	out := make([]*SectionResult, 0, len(t.Partial))
	for _, sr := range t.Partial {
		out = append(out, sr)
	}
	rank := make(map[SectionKind]int, len(AllSections()))
	for i, k := range AllSections() {
		rank[k] = i
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i].Kind] < rank[out[j].Kind] })
	return out
}

// Batch is a group of tasks submitted together. It references member tasks by
// id only; the members own their data.
type Batch struct {
	ID        string    `json:"id"`
	TaskIDs   []string  `json:"task_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchStatus derives a batch's status from its member statuses: completed iff
// every member finished successfully, failed iff at least one member failed
// and none are still pending or running, otherwise running.
func BatchStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusPending
	}
	allSuccess := true
	anyFailed := false
	anyActive := false
	for _, s := range statuses {
		if !s.Success() {
			allSuccess = false
		}
		if s == StatusFailed {
			anyFailed = true
		}
		if s == StatusPending || s == StatusRunning {
			anyActive = true
		}
	}
	switch {
	case allSuccess:
		return StatusCompleted
	case anyFailed && !anyActive:
		return StatusFailed
	default:
		return StatusRunning
	}
}
