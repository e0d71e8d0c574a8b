package model

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Skip reasons recorded in a RunSummary.
const (
	SkipMissingKey     = "missing_key"
	SkipUnreadableDoc  = "unreadable_document"
	SkipUnparseableDoc = "unparseable_document"
)

// RunSummary aggregates the outcome of one ingestion run. It is reported
// regardless of partial failures.
type RunSummary struct {
	RunID                string           `json:"run_id"`
	Files                int              `json:"files"`
	Documents            int              `json:"documents"`
	Processed            int              `json:"processed"`
	Skipped              int              `json:"skipped"`
	SkipReasons          map[string]int   `json:"skip_reasons,omitempty"`
	Duplicates           int              `json:"duplicates"`
	Edges                map[EdgeKind]int `json:"edges"`
	TimelineEvents       int              `json:"timeline_events"`
	TimelineSkippedLines int              `json:"timeline_skipped_lines"`
	Stages               map[Stage]int    `json:"stages"`
	Persisted            int              `json:"persisted"`
	PersistFailures      int              `json:"persist_failures"`
	Titled               int              `json:"titled"`
	EnrichDegraded       int              `json:"enrich_degraded"`
	GraphExported        int              `json:"graph_exported"`
	Warnings             int              `json:"warnings"`
	Elapsed              time.Duration    `json:"elapsed"`
}

// NewRunSummary returns a summary with initialised maps.
func NewRunSummary(runID string) *RunSummary {
	return &RunSummary{
		RunID:       runID,
		SkipReasons: make(map[string]int),
		Edges:       make(map[EdgeKind]int),
		Stages:      make(map[Stage]int),
	}
}

// AddSkip counts one skipped document under reason.
func (s *RunSummary) AddSkip(reason string) {
	s.Skipped++
	s.SkipReasons[reason]++
}

// TotalEdges returns the number of edges of every kind.
func (s *RunSummary) TotalEdges() int {
	n := 0
	for _, c := range s.Edges {
		n += c
	}
	return n
}

// Run is one row of the ingestion run log.
type Run struct {
	ID          string      `json:"id"`
	Status      RunStatus   `json:"status"`
	SourceDir   string      `json:"source_dir"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Summary     *RunSummary `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}
