// Package store persists ingestion results: initiatives, their timelines,
// edges and classifications, plus the ingestion run log.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Table names, also used as keys of Counts.
const (
	TableInitiatives     = "initiatives"
	TableTimelineEvents  = "timeline_events"
	TableEdges           = "edges"
	TableClassifications = "classifications"
	TableRuns            = "ingest_runs"
)

// Tables lists every data table in a stable order.
var Tables = []string{TableInitiatives, TableTimelineEvents, TableEdges, TableClassifications, TableRuns}

// InitiativeFilter narrows ListInitiatives. Empty fields match everything.
type InitiativeFilter struct {
	Stage       model.Stage `json:"stage,omitempty"`
	Kind        string      `json:"kind,omitempty"`
	Promoter    string      `json:"promoter,omitempty"`
	Legislature string      `json:"legislature,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Offset      int         `json:"offset,omitempty"`
}

// InitiativeRow is a persisted initiative with its classification.
type InitiativeRow struct {
	Initiative     model.Initiative     `json:"initiative"`
	Classification model.Classification `json:"classification"`
}

// Store defines the persistence interface for ingestion results.
type Store interface {
	// Records
	SaveRecord(ctx context.Context, rec model.Record) error
	GetInitiative(ctx context.Context, expediente string) (*InitiativeRow, error)
	ListInitiatives(ctx context.Context, filter InitiativeFilter) ([]InitiativeRow, error)
	Timeline(ctx context.Context, expediente string) ([]model.TimelineEvent, error)
	Edges(ctx context.Context, expediente string) ([]model.Edge, error)
	Counts(ctx context.Context) (map[string]int64, error)

	// Runs
	StartRun(ctx context.Context, id, sourceDir string) (*model.Run, error)
	CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error
	FailRun(ctx context.Context, id string, summary *model.RunSummary, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	defaultListLimit = 100
	dateLayout       = "2006-01-02"
)

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// dateOrNil maps the unknown (zero) date to NULL.
func dateOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func marshalKeys(keys []string) ([]byte, error) {
	if keys == nil {
		keys = []string{}
	}
	b, err := json.Marshal(keys)
	return b, eris.Wrap(err, "store: marshal keys")
}

func unmarshalKeys(b []byte) ([]string, error) {
	keys := []string{}
	if len(b) == 0 {
		return keys, nil
	}
	if err := json.Unmarshal(b, &keys); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal keys")
	}
	return keys, nil
}

func marshalReason(r model.Reason) ([]byte, error) {
	if r.Signals == nil {
		r.Signals = []model.Signal{}
	}
	b, err := json.Marshal(r)
	return b, eris.Wrap(err, "store: marshal reason")
}

func unmarshalReason(b []byte) (model.Reason, error) {
	var r model.Reason
	if len(b) == 0 {
		return r, nil
	}
	err := json.Unmarshal(b, &r)
	return r, eris.Wrap(err, "store: unmarshal reason")
}

func marshalSummary(s *model.RunSummary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	return b, eris.Wrap(err, "store: marshal run summary")
}

func unmarshalSummary(b []byte) (*model.RunSummary, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var s model.RunSummary
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal run summary")
	}
	return &s, nil
}
