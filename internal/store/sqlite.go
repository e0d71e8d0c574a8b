package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/legis-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS initiatives (
	expediente         TEXT PRIMARY KEY,
	kind               TEXT NOT NULL DEFAULT 'unknown',
	subject            TEXT NOT NULL DEFAULT '',
	promoter           TEXT NOT NULL DEFAULT '',
	submission_date    TEXT,
	qualification_date TEXT,
	legislature        TEXT NOT NULL DEFAULT '',
	procedure_type     TEXT NOT NULL DEFAULT '',
	committee          TEXT NOT NULL DEFAULT '',
	rapporteurs        TEXT NOT NULL DEFAULT '',
	deadlines          TEXT NOT NULL DEFAULT '',
	procedure_text     TEXT NOT NULL DEFAULT '',
	outcome            TEXT NOT NULL DEFAULT '',
	current_situation  TEXT NOT NULL DEFAULT '',
	related_keys       TEXT NOT NULL DEFAULT '[]',
	origin_keys        TEXT NOT NULL DEFAULT '[]',
	links              TEXT NOT NULL DEFAULT '[]',
	title              TEXT NOT NULL DEFAULT '',
	source_file        TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS timeline_events (
	expediente      TEXT NOT NULL REFERENCES initiatives(expediente),
	seq             INTEGER NOT NULL,
	label           TEXT NOT NULL,
	start_date      TEXT NOT NULL,
	end_date        TEXT,
	raw_description TEXT NOT NULL,
	PRIMARY KEY (expediente, seq)
);

CREATE TABLE IF NOT EXISTS edges (
	source_expediente TEXT NOT NULL REFERENCES initiatives(expediente),
	target_expediente TEXT NOT NULL,
	kind              TEXT NOT NULL,
	score             REAL,
	PRIMARY KEY (source_expediente, target_expediente, kind),
	CHECK (source_expediente <> target_expediente)
);

CREATE TABLE IF NOT EXISTS classifications (
	expediente TEXT PRIMARY KEY REFERENCES initiatives(expediente),
	stage      TEXT NOT NULL,
	step       INTEGER NOT NULL,
	reason     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	source_dir   TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	summary      TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_initiatives_kind ON initiatives(kind);
CREATE INDEX IF NOT EXISTS idx_initiatives_legislature ON initiatives(legislature);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_expediente);
CREATE INDEX IF NOT EXISTS idx_classifications_stage ON classifications(stage);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertInitiative = `INSERT INTO initiatives (` + "expediente, kind, subject, promoter, submission_date, qualification_date, " +
	"legislature, procedure_type, committee, rapporteurs, deadlines, procedure_text, " +
	"outcome, current_situation, related_keys, origin_keys, links, title, source_file" + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (expediente) DO UPDATE SET
		kind = excluded.kind, subject = excluded.subject, promoter = excluded.promoter,
		submission_date = excluded.submission_date, qualification_date = excluded.qualification_date,
		legislature = excluded.legislature, procedure_type = excluded.procedure_type,
		committee = excluded.committee, rapporteurs = excluded.rapporteurs, deadlines = excluded.deadlines,
		procedure_text = excluded.procedure_text, outcome = excluded.outcome,
		current_situation = excluded.current_situation, related_keys = excluded.related_keys,
		origin_keys = excluded.origin_keys, links = excluded.links,
		title = COALESCE(NULLIF(excluded.title, ''), initiatives.title),
		source_file = excluded.source_file`

// SaveRecord writes one initiative and replaces its derived rows in a
// single transaction.
func (s *SQLiteStore) SaveRecord(ctx context.Context, rec model.Record) error {
	in := rec.Initiative
	key := in.Expediente
	if key == "" {
		return eris.New("sqlite: save record without expediente")
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: begin tx for %s", key)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, sqliteUpsertInitiative,
		key, in.Kind, in.Subject, in.Promoter, dateText(in.SubmissionDate), dateText(in.QualificationDate),
		in.Legislature, in.ProcedureType, in.Committee, in.Rapporteurs, in.Deadlines, in.ProcedureText,
		in.Outcome, in.CurrentSituation, string(related), string(origin), string(links), in.Title, in.SourceFile,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert initiative %s", key)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_events WHERE expediente = ?`, key); err != nil {
		return eris.Wrapf(err, "sqlite: delete timeline %s", key)
	}
	for _, ev := range rec.Timeline {
		var end any
		if ev.EndDate != nil {
			end = dateText(*ev.EndDate)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO timeline_events (expediente, seq, label, start_date, end_date, raw_description) VALUES (?, ?, ?, ?, ?, ?)`,
			key, ev.Order, ev.Label, dateText(ev.StartDate), end, ev.RawDescription,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert timeline event %s #%d", key, ev.Order)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE source_expediente = ?`, key); err != nil {
		return eris.Wrapf(err, "sqlite: delete edges %s", key)
	}
	for _, e := range rec.Edges {
		if e.Source != key {
			continue
		}
		var score any
		if e.Score != nil {
			score = *e.Score
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (source_expediente, target_expediente, kind, score) VALUES (?, ?, ?, ?)`,
			e.Source, e.Target, string(e.Kind), score,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert edge %s -> %s", e.Source, e.Target)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO classifications (expediente, stage, step, reason) VALUES (?, ?, ?, ?)
		 ON CONFLICT (expediente) DO UPDATE SET stage = excluded.stage, step = excluded.step, reason = excluded.reason`,
		key, string(rec.Classification.Stage), rec.Classification.Step, string(reason),
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert classification %s", key)
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit %s", key)
}

const sqliteSelectInitiative = `SELECT i.expediente, i.kind, i.subject, i.promoter, i.submission_date, i.qualification_date,
	i.legislature, i.procedure_type, i.committee, i.rapporteurs, i.deadlines, i.procedure_text,
	i.outcome, i.current_situation, i.related_keys, i.origin_keys, i.links, i.title, i.source_file,
	COALESCE(c.stage, ''), COALESCE(c.step, 0), COALESCE(c.reason, '')
	FROM initiatives i LEFT JOIN classifications c ON c.expediente = i.expediente`

func (s *SQLiteStore) GetInitiative(ctx context.Context, expediente string) (*InitiativeRow, error) {
	r, err := scanSQLiteInitiative(s.db.QueryRowContext(ctx, sqliteSelectInitiative+` WHERE i.expediente = ?`, expediente))
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "initiative %s", expediente)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get initiative %s", expediente)
	}
	return r, nil
}

func (s *SQLiteStore) ListInitiatives(ctx context.Context, filter InitiativeFilter) ([]InitiativeRow, error) {
	query := sqliteSelectInitiative + ` WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND c.stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Kind != "" {
		query += ` AND i.kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.Promoter != "" {
		query += ` AND lower(i.promoter) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.Promoter)+"%")
	}
	if filter.Legislature != "" {
		query += ` AND i.legislature = ?`
		args = append(args, filter.Legislature)
	}
	query += ` ORDER BY i.expediente LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list initiatives")
	}
	defer rows.Close()

	var out []InitiativeRow
	for rows.Next() {
		r, err := scanSQLiteInitiative(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan initiative")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list initiatives iterate")
}

func (s *SQLiteStore) Timeline(ctx context.Context, expediente string) ([]model.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, label, start_date, end_date, raw_description FROM timeline_events
		 WHERE expediente = ? ORDER BY seq`,
		expediente,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: timeline %s", expediente)
	}
	defer rows.Close()

	var out []model.TimelineEvent
	for rows.Next() {
		var (
			ev    model.TimelineEvent
			start string
			end   sql.NullString
		)
		if err := rows.Scan(&ev.Order, &ev.Label, &start, &end, &ev.RawDescription); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan timeline event")
		}
		if ev.StartDate, err = parseDateText(start); err != nil {
			return nil, err
		}
		if end.Valid {
			t, err := parseDateText(end.String)
			if err != nil {
				return nil, err
			}
			ev.EndDate = &t
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: timeline iterate")
}

func (s *SQLiteStore) Edges(ctx context.Context, expediente string) ([]model.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_expediente, target_expediente, kind, score FROM edges
		 WHERE source_expediente = ? ORDER BY kind, score IS NULL, score DESC, target_expediente`,
		expediente,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: edges %s", expediente)
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var (
			e     model.Edge
			kind  string
			score sql.NullFloat64
		)
		if err := rows.Scan(&e.Source, &e.Target, &kind, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		e.Kind = model.EdgeKind(kind)
		if score.Valid {
			v := score.Float64
			e.Score = &v
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: edges iterate")
}

func (s *SQLiteStore) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "sqlite: count %s", table)
		}
		out[table] = n
	}
	return out, nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, id, sourceDir string) (*model.Run, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, status, source_dir, started_at) VALUES (?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), sourceDir, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start run %s", id)
	}
	return &model.Run{ID: id, Status: model.RunStatusRunning, SourceDir: sourceDir, StartedAt: now}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, summary *model.RunSummary) error {
	return s.finishRun(ctx, id, model.RunStatusComplete, summary, nil)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, summary *model.RunSummary, errMsg string) error {
	return s.finishRun(ctx, id, model.RunStatusFailed, summary, errMsg)
}

func (s *SQLiteStore) finishRun(ctx context.Context, id string, status model.RunStatus, summary *model.RunSummary, errMsg any) error {
	summaryJSON, err := marshalSummary(summary)
	if err != nil {
		return err
	}
	var summaryArg any
	if summaryJSON != nil {
		summaryArg = string(summaryJSON)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, summary = ?, error = ? WHERE id = ?`,
		string(status), time.Now().UTC(), summaryArg, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, source_dir, started_at, completed_at, summary, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r           model.Run
			status      string
			completedAt sql.NullTime
			summaryJSON sql.NullString
			errStr      sql.NullString
		)
		if err := rows.Scan(&r.ID, &status, &r.SourceDir, &r.StartedAt, &completedAt, &summaryJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		r.Error = errStr.String
		if r.Summary, err = unmarshalSummary([]byte(summaryJSON.String)); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteInitiative(row scannable) (*InitiativeRow, error) {
	var (
		r                             InitiativeRow
		in                            = &r.Initiative
		sub, qual                     sql.NullString
		related, origin, links, rsStr string
		stage                         string
	)
	if err := row.Scan(&in.Expediente, &in.Kind, &in.Subject, &in.Promoter, &sub, &qual,
		&in.Legislature, &in.ProcedureType, &in.Committee, &in.Rapporteurs, &in.Deadlines, &in.ProcedureText,
		&in.Outcome, &in.CurrentSituation, &related, &origin, &links, &in.Title, &in.SourceFile,
		&stage, &r.Classification.Step, &rsStr,
	); err != nil {
		return nil, err
	}
	r.Classification.Stage = model.Stage(stage)

	var err error
	if sub.Valid {
		if in.SubmissionDate, err = parseDateText(sub.String); err != nil {
			return nil, err
		}
	}
	if qual.Valid {
		if in.QualificationDate, err = parseDateText(qual.String); err != nil {
			return nil, err
		}
	}
	if in.RelatedKeys, err = unmarshalKeys([]byte(related)); err != nil {
		return nil, err
	}
	if in.OriginKeys, err = unmarshalKeys([]byte(origin)); err != nil {
		return nil, err
	}
	if in.Links, err = unmarshalKeys([]byte(links)); err != nil {
		return nil, err
	}
	if r.Classification.Reason, err = unmarshalReason([]byte(rsStr)); err != nil {
		return nil, err
	}
	return &r, nil
}

// dateText renders a date as YYYY-MM-DD, or NULL when unknown.
func dateText(t time.Time) any {
	d := dateOrNil(t)
	if d == nil {
		return nil
	}
	return d.Format(dateLayout)
}

func parseDateText(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	return t, eris.Wrapf(err, "store: parse date %q", s)
}
