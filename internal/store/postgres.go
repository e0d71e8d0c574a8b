package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-cli/internal/db"
	"github.com/sells-group/legis-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var initiativeColumns = []string{
	"expediente", "kind", "subject", "promoter", "submission_date", "qualification_date",
	"legislature", "procedure_type", "committee", "rapporteurs", "deadlines", "procedure_text",
	"outcome", "current_situation", "related_keys", "origin_keys", "links", "title", "source_file",
}

var (
	timelineColumns = []string{"expediente", "seq", "label", "start_date", "end_date", "raw_description"}
	edgeColumns     = []string{"source_expediente", "target_expediente", "kind", "score"}
)

// A blank incoming title keeps the stored one.
var upsertInitiativeSQL = db.MustUpsertSQL(db.UpsertConfig{
	Table:        TableInitiatives,
	Columns:      initiativeColumns,
	ConflictKeys: []string{"expediente"},
	UpdateExprs:  map[string]string{"title": "COALESCE(NULLIF(EXCLUDED.title, ''), initiatives.title)"},
})

var upsertClassificationSQL = db.MustUpsertSQL(db.UpsertConfig{
	Table:        TableClassifications,
	Columns:      []string{"expediente", "stage", "step", "reason"},
	ConflictKeys: []string{"expediente"},
})

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership of
// the pool; Close is a no-op.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveRecord writes one initiative and replaces its derived rows in a
// single transaction.
func (s *PostgresStore) SaveRecord(ctx context.Context, rec model.Record) error {
	in := rec.Initiative
	key := in.Expediente
	if key == "" {
		return eris.New("postgres: save record without expediente")
	}

	related, err := marshalKeys(in.RelatedKeys)
	if err != nil {
		return err
	}
	origin, err := marshalKeys(in.OriginKeys)
	if err != nil {
		return err
	}
	links, err := marshalKeys(in.Links)
	if err != nil {
		return err
	}
	reason, err := marshalReason(rec.Classification.Reason)
	if err != nil {
		return err
	}

	timelineRows := make([][]any, len(rec.Timeline))
	for i, ev := range rec.Timeline {
		var end *time.Time
		if ev.EndDate != nil {
			end = dateOrNil(*ev.EndDate)
		}
		timelineRows[i] = []any{key, ev.Order, ev.Label, ev.StartDate, end, ev.RawDescription}
	}

	var edgeRows [][]any
	for _, e := range rec.Edges {
		if e.Source != key {
			continue
		}
		edgeRows = append(edgeRows, []any{e.Source, e.Target, string(e.Kind), e.Score})
	}

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertInitiativeSQL,
			key, in.Kind, in.Subject, in.Promoter, dateOrNil(in.SubmissionDate), dateOrNil(in.QualificationDate),
			in.Legislature, in.ProcedureType, in.Committee, in.Rapporteurs, in.Deadlines, in.ProcedureText,
			in.Outcome, in.CurrentSituation, related, origin, links, in.Title, in.SourceFile,
		); err != nil {
			return eris.Wrap(err, "upsert initiative")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM timeline_events WHERE expediente = $1`, key); err != nil {
			return eris.Wrap(err, "delete timeline")
		}
		if _, err := db.CopyFrom(ctx, tx, TableTimelineEvents, timelineColumns, timelineRows); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM edges WHERE source_expediente = $1`, key); err != nil {
			return eris.Wrap(err, "delete edges")
		}
		if _, err := db.CopyFrom(ctx, tx, TableEdges, edgeColumns, edgeRows); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, upsertClassificationSQL,
			key, string(rec.Classification.Stage), rec.Classification.Step, reason,
		); err != nil {
			return eris.Wrap(err, "upsert classification")
		}
		return nil
	})
	return eris.Wrapf(err, "postgres: save record %s", key)
}

const selectInitiativeSQL = `SELECT i.expediente, i.kind, i.subject, i.promoter, i.submission_date, i.qualification_date,
	i.legislature, i.procedure_type, i.committee, i.rapporteurs, i.deadlines, i.procedure_text,
	i.outcome, i.current_situation, i.related_keys, i.origin_keys, i.links, i.title, i.source_file,
	COALESCE(c.stage, ''), COALESCE(c.step, 0), c.reason
	FROM initiatives i LEFT JOIN classifications c ON c.expediente = i.expediente`

func scanPgInitiative(row pgx.Row) (*InitiativeRow, error) {
	var (
		r                          InitiativeRow
		in                         = &r.Initiative
		sub, qual                  *time.Time
		related, origin, links, rs []byte
		stage                      string
	)
	if err := row.Scan(&in.Expediente, &in.Kind, &in.Subject, &in.Promoter, &sub, &qual,
		&in.Legislature, &in.ProcedureType, &in.Committee, &in.Rapporteurs, &in.Deadlines, &in.ProcedureText,
		&in.Outcome, &in.CurrentSituation, &related, &origin, &links, &in.Title, &in.SourceFile,
		&stage, &r.Classification.Step, &rs,
	); err != nil {
		return nil, err
	}
	in.SubmissionDate = timeOrZero(sub)
	in.QualificationDate = timeOrZero(qual)
	r.Classification.Stage = model.Stage(stage)

	var err error
	if in.RelatedKeys, err = unmarshalKeys(related); err != nil {
		return nil, err
	}
	if in.OriginKeys, err = unmarshalKeys(origin); err != nil {
		return nil, err
	}
	if in.Links, err = unmarshalKeys(links); err != nil {
		return nil, err
	}
	if r.Classification.Reason, err = unmarshalReason(rs); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetInitiative(ctx context.Context, expediente string) (*InitiativeRow, error) {
	r, err := scanPgInitiative(s.pool.QueryRow(ctx, selectInitiativeSQL+` WHERE i.expediente = $1`, expediente))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "initiative %s", expediente)
		}
		return nil, eris.Wrapf(err, "postgres: get initiative %s", expediente)
	}
	return r, nil
}

func (s *PostgresStore) ListInitiatives(ctx context.Context, filter InitiativeFilter) ([]InitiativeRow, error) {
	query := selectInitiativeSQL + ` WHERE true`
	args := []any{}
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if filter.Stage != "" {
		add(` AND c.stage = $%d`, string(filter.Stage))
	}
	if filter.Kind != "" {
		add(` AND i.kind = $%d`, filter.Kind)
	}
	if filter.Promoter != "" {
		add(` AND i.promoter ILIKE '%%' || $%d || '%%'`, filter.Promoter)
	}
	if filter.Legislature != "" {
		add(` AND i.legislature = $%d`, filter.Legislature)
	}
	query += ` ORDER BY i.expediente`
	add(` LIMIT $%d`, listLimit(filter.Limit))
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list initiatives")
	}
	defer rows.Close()

	var out []InitiativeRow
	for rows.Next() {
		r, err := scanPgInitiative(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan initiative")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list initiatives iterate")
}

func (s *PostgresStore) Timeline(ctx context.Context, expediente string) ([]model.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, label, start_date, end_date, raw_description FROM timeline_events
		 WHERE expediente = $1 ORDER BY seq`,
		expediente,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: timeline %s", expediente)
	}
	defer rows.Close()

	var out []model.TimelineEvent
	for rows.Next() {
		var ev model.TimelineEvent
		if err := rows.Scan(&ev.Order, &ev.Label, &ev.StartDate, &ev.EndDate, &ev.RawDescription); err != nil {
			return nil, eris.Wrap(err, "postgres: scan timeline event")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: timeline iterate")
}

func (s *PostgresStore) Edges(ctx context.Context, expediente string) ([]model.Edge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_expediente, target_expediente, kind, score FROM edges
		 WHERE source_expediente = $1 ORDER BY kind, score DESC NULLS LAST, target_expediente`,
		expediente,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: edges %s", expediente)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		var kind string
		if err := rows.Scan(&e.Source, &e.Target, &kind, &e.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		e.Kind = model.EdgeKind(kind)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: edges iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+pgx.Identifier{table}.Sanitize()).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", table)
		}
		out[table] = n
	}
	return out, nil
}

func (s *PostgresStore) StartRun(ctx context.Context, id, sourceDir string) (*model.Run, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, status, source_dir, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.RunStatusRunning), sourceDir, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: start run %s", id)
	}
	return &model.Run{ID: id, Status: model.RunStatusRunning, SourceDir: sourceDir, StartedAt: now}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error {
	return s.finishRun(ctx, id, model.RunStatusComplete, summary, nil)
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, summary *model.RunSummary, errMsg string) error {
	return s.finishRun(ctx, id, model.RunStatusFailed, summary, &errMsg)
}

func (s *PostgresStore) finishRun(ctx context.Context, id string, status model.RunStatus, summary *model.RunSummary, errMsg *string) error {
	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = $2, summary = $3, error = $4 WHERE id = $5`,
		string(status), time.Now().UTC(), summaryJSON, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, source_dir, started_at, completed_at, summary, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r           model.Run
			status      string
			summaryJSON []byte
			errStr      *string
		)
		if err := rows.Scan(&r.ID, &status, &r.SourceDir, &r.StartedAt, &r.CompletedAt, &summaryJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		if r.Summary, err = unmarshalSummary(summaryJSON); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
