// Package timeline reconstructs procedural events from an initiative's
// processing narrative.
package timeline

import (
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/normalize"
)

// DefaultLabel is attached to events that appear before any label line.
const DefaultLabel = "Processing"

const datePattern = `(\d{1,2}/\d{1,2}/\d{4})`

// Rule turns a matching narrative line into event dates. Rules are tried in
// order and the first match wins, so more specific rules go first.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// HasEnd reports whether the second capture group is an end date.
	HasEnd bool
}

// Rules is the ordered rule table. The range rule must precede the start
// rule, which would otherwise also match range lines.
var Rules = []Rule{
	{
		Name:    "range",
		Pattern: regexp.MustCompile(`(?i)\b(?:desde|from)\s+(?:el\s+)?` + datePattern + `\s+(?:hasta|to)\s+(?:el\s+)?` + datePattern),
		HasEnd:  true,
	},
	{
		Name:    "start",
		Pattern: regexp.MustCompile(`(?i)\b(?:desde|from)\s+(?:el\s+)?` + datePattern),
	},
}

// Result is the extracted timeline plus the number of lines that matched a
// date clause but carried an invalid date.
type Result struct {
	Events       []model.TimelineEvent
	SkippedLines int
}

// Extract scans text line by line. Lines without a date clause set the
// current label. Text before a date clause on the same line also becomes
// the label. Events keep narrative order.
func Extract(text string) Result {
	res := Result{Events: []model.TimelineEvent{}}
	label := DefaultLabel

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rule, m, loc := match(line)
		if rule == nil {
			label = line
			continue
		}

		start, err := normalize.ParseDate(m[1])
		if err != nil {
			res.SkippedLines++
			continue
		}
		var end *time.Time
		if rule.HasEnd {
			e, err := normalize.ParseDate(m[2])
			if err != nil {
				res.SkippedLines++
				continue
			}
			end = &e
		}

		if prefix := strings.TrimRight(strings.TrimSpace(line[:loc[0]]), ",;:-"); prefix != "" {
			label = strings.TrimSpace(prefix)
		}

		res.Events = append(res.Events, model.TimelineEvent{
			Label:          label,
			StartDate:      start,
			EndDate:        end,
			RawDescription: line,
			Order:          len(res.Events) + 1,
		})
	}

	return res
}

func match(line string) (*Rule, []string, []int) {
	for i := range Rules {
		loc := Rules[i].Pattern.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		m := make([]string, len(loc)/2)
		for g := range m {
			if loc[2*g] >= 0 {
				m[g] = line[loc[2*g]:loc[2*g+1]]
			}
		}
		return &Rules[i], m, loc
	}
	return nil, nil, nil
}
