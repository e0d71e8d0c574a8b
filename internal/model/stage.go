package model

import "github.com/rotisserie/eris"

// Stage is the coarse procedural state assigned by the classifier.
type Stage string

const (
	StageProposed  Stage = "proposed"
	StageDebating  Stage = "debating"
	StageCommittee Stage = "committee"
	StageVoting    Stage = "voting"
	StagePassed    Stage = "passed"
	StageRejected  Stage = "rejected"
	StageWithdrawn Stage = "withdrawn"
	StageClosed    Stage = "closed"
	StagePublished Stage = "published"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageProposed, StageDebating, StageCommittee, StageVoting,
	StagePassed, StageRejected, StageWithdrawn, StageClosed, StagePublished,
}

// Pipeline steps: submission, chamber debate, committee, vote, publication.
const (
	StepSubmission  = 1
	StepDebate      = 2
	StepCommittee   = 3
	StepVote        = 4
	StepPublication = 5
)

// ParseStage converts a string into a Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", eris.Errorf("unknown stage: %q", s)
}

// Signal is one keyword hit that contributed to a classification.
type Signal struct {
	Field   string `json:"field"`
	Keyword string `json:"keyword"`
}

// Reason records which rule decided a classification and why.
type Reason struct {
	Rule    string   `json:"rule"`
	Signals []Signal `json:"signals"`
}

// Classification is the stage assigned to one initiative.
type Classification struct {
	Stage  Stage  `json:"stage"`
	Step   int    `json:"step"`
	Reason Reason `json:"reason"`
}
