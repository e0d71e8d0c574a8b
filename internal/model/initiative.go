// Package model defines the canonical records produced by an ingestion run.
package model

import (
	"time"
)

// UnknownKind is the kind assigned when a raw document declares no type.
const UnknownKind = "unknown"

// Initiative is one parliamentary legislative record, keyed by Expediente.
//
// Optional attributes are never absent: strings default to "", dates to the
// zero time (unknown) and key lists to an empty, non-nil slice.
type Initiative struct {
	Expediente        string    `json:"expediente"`
	Kind              string    `json:"kind"`
	Subject           string    `json:"subject"`
	Promoter          string    `json:"promoter"`
	SubmissionDate    time.Time `json:"submission_date"`
	QualificationDate time.Time `json:"qualification_date"`
	Legislature       string    `json:"legislature"`
	ProcedureType     string    `json:"procedure_type"`
	Committee         string    `json:"committee"`
	Rapporteurs       string    `json:"rapporteurs"`
	Deadlines         string    `json:"deadlines"`
	ProcedureText     string    `json:"procedure_text"`
	Outcome           string    `json:"outcome"`
	CurrentSituation  string    `json:"current_situation"`
	RelatedKeys       []string  `json:"related_keys"`
	OriginKeys        []string  `json:"origin_keys"`
	Links             []string  `json:"links"`
	Title             string    `json:"title,omitempty"`
	SourceFile        string    `json:"source_file"`
}

// HasSubmissionDate reports whether the submission date is known.
func (i Initiative) HasSubmissionDate() bool { return !i.SubmissionDate.IsZero() }

// HasQualificationDate reports whether the qualification date is known.
func (i Initiative) HasQualificationDate() bool { return !i.QualificationDate.IsZero() }

// TimelineEvent is one procedural milestone inferred from the procedure text.
type TimelineEvent struct {
	Label          string     `json:"event_label"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	RawDescription string     `json:"raw_description"`
	Order          int        `json:"order"`
}

// Record bundles an initiative with everything derived from it during a run.
// It is the unit the persistence layer writes atomically.
type Record struct {
	Initiative     Initiative      `json:"initiative"`
	Timeline       []TimelineEvent `json:"timeline"`
	Edges          []Edge          `json:"edges"`
	Classification Classification  `json:"classification"`
}
