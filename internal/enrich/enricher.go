package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/resilience"
)

// Config tunes the call chain around the Titler.
type Config struct {
	// RequestsPerSecond limits title calls. Zero means unlimited.
	RequestsPerSecond float64
	// FailureThreshold is the number of consecutive failed titles that opens
	// the breaker for the rest of the run.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
	// Retry is the per-title retry policy.
	Retry resilience.Policy
}

// Stats counts enrichment outcomes for one run.
type Stats struct {
	Titled   int
	Degraded int
	Evidence int
}

// Enricher titles every initiative of a working set. Each call passes
// through a rate limiter, a circuit breaker and a retry policy.
type Enricher struct {
	titler   Titler
	evidence EvidenceRetriever
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	retry    resilience.Policy
	log      *zap.Logger
}

// New creates an Enricher. A nil evidence retriever means NopRetriever.
func New(titler Titler, evidence EvidenceRetriever, cfg Config) *Enricher {
	if evidence == nil {
		evidence = NopRetriever{}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	log := zap.L().With(zap.String("component", "enrich.titles"))
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetries("enrich.titles", "title")
	}
	return &Enricher{
		titler:   titler,
		evidence: evidence,
		limiter:  rate.NewLimiter(limit, 1),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:      "titles",
			Threshold: cfg.FailureThreshold,
			Cooldown:  cfg.Cooldown,
			OnChange: func(name string, from, to resilience.State) {
				log.Warn("breaker state change",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
		retry: retry,
		log:   log,
	}
}

// Enrich sets a title on every initiative of ws, in key order. Failures are
// counted as degraded and leave the title empty. Only cancellation of ctx
// is returned as an error.
func (e *Enricher) Enrich(ctx context.Context, ws *model.WorkingSet, stages map[string]model.Classification) (Stats, error) {
	var st Stats
	start := time.Now()

	for _, key := range ws.Keys() {
		if err := ctx.Err(); err != nil {
			return st, eris.Wrap(err, "enrich: titles")
		}
		in, _ := ws.Get(key)

		p := Prompt{
			Expediente: in.Expediente,
			Kind:       in.Kind,
			Subject:    in.Subject,
			Promoter:   in.Promoter,
			Stage:      stages[key].Stage,
		}
		snippets, err := e.evidence.Evidence(ctx, key)
		if err != nil {
			e.log.Warn("evidence unavailable", zap.String("expediente", key), zap.Error(err))
		} else if len(snippets) > 0 {
			p.Evidence = snippets
			st.Evidence++
		}

		title, err := e.title(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return st, eris.Wrap(ctx.Err(), "enrich: titles")
			}
			st.Degraded++
			e.log.Warn("title degraded", zap.String("expediente", key), zap.Error(err))
			continue
		}
		ws.SetTitle(key, title)
		st.Titled++
	}

	e.log.Info("titles complete",
		zap.Int("titled", st.Titled),
		zap.Int("degraded", st.Degraded),
		zap.Int("with_evidence", st.Evidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return st, nil
}

func (e *Enricher) title(ctx context.Context, p Prompt) (string, error) {
	return resilience.ExecuteVal(ctx, e.breaker, func(ctx context.Context) (string, error) {
		return resilience.DoVal(ctx, e.retry, func(ctx context.Context) (string, error) {
			if err := e.limiter.Wait(ctx); err != nil {
				return "", eris.Wrap(err, "enrich: rate limit")
			}
			title, err := e.titler.Title(ctx, p)
			if err != nil {
				return "", err
			}
			if title = Clean(title); title == "" {
				return "", eris.Wrapf(ErrEmptyTitle, "enrich: title %s", p.Expediente)
			}
			return title, nil
		})
	})
}

// BreakerState reports the breaker position, for status output and tests.
func (e *Enricher) BreakerState() resilience.State { return e.breaker.State() }
