// Package ingest runs one ingestion pass over a source directory: load,
// normalize, derive relationships, timelines and stages, then persist.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/legis-cli/internal/enrich"
	"github.com/sells-group/legis-cli/internal/graph"
	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/resilience"
	"github.com/sells-group/legis-cli/internal/resolve"
	"github.com/sells-group/legis-cli/internal/source"
	"github.com/sells-group/legis-cli/internal/stage"
	"github.com/sells-group/legis-cli/internal/store"
)

var (
	// ErrSourceUnreadable is returned when the source directory cannot be read.
	ErrSourceUnreadable = eris.New("ingest: source unreadable")
	// ErrStoreUnavailable is returned when persistence fails for
	// MaxConsecutiveFailures initiatives in a row.
	ErrStoreUnavailable = eris.New("ingest: store unavailable")
)

// Config tunes one Engine. It is fixed for the duration of a run.
type Config struct {
	SimilarityThreshold    float64
	Concurrency            int
	MaxConsecutiveFailures int
	// SaveRetry is the retry policy around each initiative's save.
	SaveRetry resilience.Policy
}

// Options selects what a single Run does.
type Options struct {
	SourceDir string
	// DryRun computes everything but writes nothing to the store.
	DryRun bool
}

// Engine orchestrates ingestion runs.
type Engine struct {
	loader     *source.Loader
	classifier *stage.Classifier
	store      store.Store
	enricher   *enrich.Enricher
	exporter   *graph.Exporter
	cfg        Config
	newRunID   func() string
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithEnricher enables AI titles.
func WithEnricher(e *enrich.Enricher) Option {
	return func(eng *Engine) { eng.enricher = e }
}

// WithExporter enables graph export after persistence.
func WithExporter(x *graph.Exporter) Option {
	return func(eng *Engine) { eng.exporter = x }
}

// NewEngine creates an Engine. st may be nil for dry runs.
func NewEngine(loader *source.Loader, classifier *stage.Classifier, st store.Store, cfg Config, opts ...Option) *Engine {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = resolve.DefaultThreshold
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 10
	}
	if cfg.SaveRetry.OnRetry == nil {
		cfg.SaveRetry.OnRetry = resilience.LogRetries("ingest.persist", "save_record")
	}
	e := &Engine{
		loader:     loader,
		classifier: classifier,
		store:      st,
		cfg:        cfg,
		newRunID:   uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run performs one ingestion pass. The returned summary is non-nil even
// when err is set. Fatal conditions are ErrSourceUnreadable,
// ErrStoreUnavailable and cancellation of ctx.
func (e *Engine) Run(ctx context.Context, opts Options) (*model.RunSummary, error) {
	start := time.Now()
	sum := model.NewRunSummary(e.newRunID())
	log := zap.L().With(zap.String("component", "ingest.engine"), zap.String("run_id", sum.RunID))

	persist := !opts.DryRun && e.store != nil
	if persist {
		if _, err := e.store.StartRun(ctx, sum.RunID, opts.SourceDir); err != nil {
			return sum, eris.Wrapf(ErrStoreUnavailable, "ingest: start run: %v", err)
		}
	}

	err := e.run(ctx, opts, persist, sum, log)
	sum.Elapsed = time.Since(start)

	if persist {
		// The run log must be written even when ctx was cancelled.
		logCtx := context.WithoutCancel(ctx)
		var logErr error
		if err != nil {
			logErr = e.store.FailRun(logCtx, sum.RunID, sum, err.Error())
		} else {
			logErr = e.store.CompleteRun(logCtx, sum.RunID, sum)
		}
		if logErr != nil {
			log.Error("failed to record run outcome", zap.Error(logErr))
		}
	}

	if err != nil {
		log.Error("ingest run failed", zap.Error(err), zap.Duration("elapsed", sum.Elapsed))
		return sum, err
	}
	log.Info("ingest run complete",
		zap.Int("processed", sum.Processed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("edges", sum.TotalEdges()),
		zap.Int("persisted", sum.Persisted),
		zap.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

func (e *Engine) run(ctx context.Context, opts Options, persist bool, sum *model.RunSummary, log *zap.Logger) error {
	batch, err := e.loader.Load(ctx, opts.SourceDir)
	if err != nil {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "ingest: load")
		}
		return eris.Wrapf(ErrSourceUnreadable, "ingest: %v", err)
	}
	sum.Files = len(batch.Files)
	sum.Documents = len(batch.Entries)
	for range batch.FileErrors {
		sum.AddSkip(model.SkipUnreadableDoc)
	}
	log.Info("source loaded",
		zap.Int("files", sum.Files),
		zap.Int("documents", sum.Documents),
		zap.Int("unreadable_files", len(batch.FileErrors)),
	)

	ws, err := normalizeAll(ctx, batch.Entries, e.cfg.Concurrency, sum, log)
	if err != nil {
		return eris.Wrap(err, "ingest: normalize")
	}
	log.Info("normalize complete",
		zap.Int("initiatives", sum.Processed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("duplicates", sum.Duplicates),
	)

	sim := resolve.Similarity{Threshold: e.cfg.SimilarityThreshold, Workers: e.cfg.Concurrency}
	d, err := deriveAll(ctx, ws, sim, e.classifier, sum, log)
	if err != nil {
		return eris.Wrap(err, "ingest: derive")
	}
	log.Info("derivation complete",
		zap.Int("edges", sum.TotalEdges()),
		zap.Int("timeline_events", sum.TimelineEvents),
	)

	if e.enricher != nil {
		st, err := e.enricher.Enrich(ctx, ws, d.classifications)
		sum.Titled = st.Titled
		sum.EnrichDegraded = st.Degraded
		if err != nil {
			return eris.Wrap(err, "ingest: enrich")
		}
	}

	records := d.records(ws)

	if persist {
		if err := e.persistAll(ctx, records, sum, log); err != nil {
			return err
		}
	}

	if e.exporter != nil {
		n, err := e.exporter.Export(ctx, records)
		sum.GraphExported = n
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrap(ctx.Err(), "ingest: graph export")
			}
			log.Warn("graph export degraded", zap.Error(err))
		}
	}
	return nil
}

// persistAll saves records one initiative at a time. A failed initiative is
// logged and counted; committed initiatives are never rolled back.
// Cancellation is honoured between initiatives.
func (e *Engine) persistAll(ctx context.Context, records []model.Record, sum *model.RunSummary, log *zap.Logger) error {
	start := time.Now()
	consecutive := 0

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "ingest: persist")
		}
		key := rec.Initiative.Expediente

		// The save itself is not interrupted once started.
		saveCtx := context.WithoutCancel(ctx)
		err := resilience.Do(saveCtx, e.cfg.SaveRetry, func(ctx context.Context) error {
			return e.store.SaveRecord(ctx, rec)
		})
		if err != nil {
			sum.PersistFailures++
			consecutive++
			log.Warn("persist failed", zap.String("expediente", key), zap.Error(err))
			if consecutive >= e.cfg.MaxConsecutiveFailures {
				return eris.Wrapf(ErrStoreUnavailable, "ingest: %d consecutive failures, last: %v", consecutive, err)
			}
			continue
		}
		consecutive = 0
		sum.Persisted++
	}

	log.Info("persist complete",
		zap.Int("persisted", sum.Persisted),
		zap.Int("failures", sum.PersistFailures),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
