// Package resolve derives relationship edges between initiatives in a
// working set: declared cross-references and subject similarity.
package resolve

import (
	"go.uber.org/zap"

	"github.com/sells-group/legis-cli/internal/model"
)

type edgeKey struct {
	source, target string
	kind           model.EdgeKind
}

// ResolveReferences builds related and origin edges from the declared key
// lists of every initiative. Sources are visited in key order, and each
// source's related list is read before its origin list. References to keys
// outside the working set and self references are dropped, as are repeats
// of an edge already emitted.
func ResolveReferences(ws *model.WorkingSet) []model.Edge {
	log := zap.L().With(zap.String("component", "resolve.xref"))

	var (
		edges                   []model.Edge
		seen                    = make(map[edgeKey]struct{})
		missing, self, repeated int
	)

	add := func(source string, targets []string, kind model.EdgeKind) {
		for _, target := range targets {
			switch {
			case target == source:
				self++
				continue
			case !ws.Has(target):
				missing++
				continue
			}
			k := edgeKey{source: source, target: target, kind: kind}
			if _, ok := seen[k]; ok {
				repeated++
				continue
			}
			seen[k] = struct{}{}
			edges = append(edges, model.Edge{Source: source, Target: target, Kind: kind})
		}
	}

	for _, key := range ws.Keys() {
		in, _ := ws.Get(key)
		add(key, in.RelatedKeys, model.EdgeRelated)
		add(key, in.OriginKeys, model.EdgeOrigin)
	}

	log.Debug("cross-references resolved",
		zap.Int("edges", len(edges)),
		zap.Int("missing_targets", missing),
		zap.Int("self_references", self),
		zap.Int("repeated", repeated),
	)
	return edges
}
