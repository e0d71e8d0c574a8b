// Package stage assigns a coarse procedural stage to an initiative from its
// outcome, situation and narrative text.
package stage

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/normalize"
)

//go:embed rules.yaml
var defaultRules []byte

// Field names usable in rule matchers.
const (
	FieldOutcome        = "outcome"
	FieldSituation      = "situation"
	FieldNarrative      = "narrative"
	FieldCommitteeField = "committee_field"
)

// PresentKeyword is recorded as the keyword of a presence signal.
const PresentKeyword = "*"

// DefaultRule names the fallback classification.
const DefaultRule = "default"

// Matcher fires when any keyword occurs in any of its fields, or, with
// Present set, when any of its fields is non-empty.
type Matcher struct {
	Fields   []string `yaml:"fields"`
	Keywords []string `yaml:"keywords"`
	Present  bool     `yaml:"present"`
}

// Rule maps matching signals to a stage and step.
type Rule struct {
	Name  string      `yaml:"name"`
	Stage model.Stage `yaml:"stage"`
	Step  int         `yaml:"step"`
	Match []Matcher   `yaml:"match"`
}

// Rules is an ordered rule table.
type Rules struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads a rule table from a YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "stage: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "stage: parse rules")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate rejects unknown stages and fields, steps outside 1-5 and
// matchers that can never fire.
func (r *Rules) Validate() error {
	if len(r.Rules) == 0 {
		return eris.New("stage: rule table is empty")
	}
	for i, rule := range r.Rules {
		if rule.Name == "" {
			return eris.Errorf("stage: rule %d has no name", i)
		}
		if _, err := model.ParseStage(string(rule.Stage)); err != nil {
			return eris.Wrapf(err, "stage: rule %q", rule.Name)
		}
		if rule.Step < model.StepSubmission || rule.Step > model.StepPublication {
			return eris.Errorf("stage: rule %q step %d outside 1-5", rule.Name, rule.Step)
		}
		if len(rule.Match) == 0 {
			return eris.Errorf("stage: rule %q has no matchers", rule.Name)
		}
		for _, m := range rule.Match {
			if len(m.Fields) == 0 {
				return eris.Errorf("stage: rule %q has a matcher without fields", rule.Name)
			}
			for _, f := range m.Fields {
				switch f {
				case FieldOutcome, FieldSituation, FieldNarrative, FieldCommitteeField:
				default:
					return eris.Errorf("stage: rule %q unknown field %q", rule.Name, f)
				}
			}
			if !m.Present && len(m.Keywords) == 0 {
				return eris.Errorf("stage: rule %q has a matcher without keywords", rule.Name)
			}
			for _, k := range m.Keywords {
				if normalize.Fold(k) == "" {
					return eris.Errorf("stage: rule %q has a blank keyword", rule.Name)
				}
			}
		}
	}
	return nil
}

// Classifier evaluates a rule table against initiatives. It is safe for
// concurrent use.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier. Keywords are folded once here.
func New(r *Rules) *Classifier {
	rules := make([]Rule, len(r.Rules))
	for i, rule := range r.Rules {
		rule.Match = append([]Matcher(nil), rule.Match...)
		for j, m := range rule.Match {
			kws := make([]string, len(m.Keywords))
			for k, kw := range m.Keywords {
				kws[k] = normalize.Fold(kw)
			}
			rule.Match[j].Keywords = kws
		}
		rules[i] = rule
	}
	return &Classifier{rules: rules}
}

// Classify returns the stage of the first rule with a matching signal, or
// proposed at step 1. Every signal of the deciding rule is recorded.
func (c *Classifier) Classify(in model.Initiative) model.Classification {
	fields := map[string]string{
		FieldOutcome:        normalize.Fold(in.Outcome),
		FieldSituation:      normalize.Fold(in.CurrentSituation),
		FieldNarrative:      normalize.Fold(in.ProcedureText),
		FieldCommitteeField: normalize.Fold(in.Committee),
	}

	for _, rule := range c.rules {
		if signals := evaluate(rule, fields); len(signals) > 0 {
			return model.Classification{
				Stage:  rule.Stage,
				Step:   rule.Step,
				Reason: model.Reason{Rule: rule.Name, Signals: signals},
			}
		}
	}

	return model.Classification{
		Stage:  model.StageProposed,
		Step:   model.StepSubmission,
		Reason: model.Reason{Rule: DefaultRule, Signals: []model.Signal{}},
	}
}

func evaluate(rule Rule, fields map[string]string) []model.Signal {
	var signals []model.Signal
	for _, m := range rule.Match {
		for _, f := range m.Fields {
			text := fields[f]
			if text == "" {
				continue
			}
			if m.Present {
				signals = append(signals, model.Signal{Field: f, Keyword: PresentKeyword})
			}
			for _, kw := range m.Keywords {
				if strings.Contains(text, kw) {
					signals = append(signals, model.Signal{Field: f, Keyword: kw})
				}
			}
		}
	}
	return signals
}
