package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/legis-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_SaveRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := sampleRecord("121/000001")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "initiatives"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM timeline_events WHERE expediente = \$1`).
		WithArgs("121/000001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{TableTimelineEvents}, timelineColumns).WillReturnResult(1)
	mock.ExpectExec(`DELETE FROM edges WHERE source_expediente = \$1`).
		WithArgs("121/000001").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{TableEdges}, edgeColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "classifications"`).
		WithArgs("121/000001", "passed", 4, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord_NoDerivedRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := sampleRecord("121/000001")
	rec.Timeline = nil
	rec.Edges = nil

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "initiatives"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM timeline_events`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM edges`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO "classifications"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "initiatives"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM timeline_events`).WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := s.SaveRecord(context.Background(), sampleRecord("121/000001"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save record 121/000001")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord_MissingKey(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	err := s.SaveRecord(context.Background(), model.Record{})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetInitiative_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM initiatives i LEFT JOIN classifications c`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetInitiative(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetInitiative(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sub := day(2023, 9, 5)

	rows := pgxmock.NewRows([]string{
		"expediente", "kind", "subject", "promoter", "submission_date", "qualification_date",
		"legislature", "procedure_type", "committee", "rapporteurs", "deadlines", "procedure_text",
		"outcome", "current_situation", "related_keys", "origin_keys", "links", "title", "source_file",
		"stage", "step", "reason",
	}).AddRow(
		"121/000001", "Proyecto de ley", "Ley de Aguas", "Gobierno", &sub, (*time.Time)(nil),
		"15", "", "", "", "", "",
		"Aprobado", "", []byte(`["121/000002"]`), []byte(`[]`), []byte(`[]`), "", "a.xml",
		"passed", 4, []byte(`{"rule":"passed","signals":[{"field":"outcome","keyword":"aprobad"}]}`),
	)
	mock.ExpectQuery(`WHERE i.expediente = \$1`).WithArgs("121/000001").WillReturnRows(rows)

	got, err := s.GetInitiative(context.Background(), "121/000001")
	require.NoError(t, err)
	assert.Equal(t, "Ley de Aguas", got.Initiative.Subject)
	assert.Equal(t, sub, got.Initiative.SubmissionDate)
	assert.False(t, got.Initiative.HasQualificationDate())
	assert.Equal(t, []string{"121/000002"}, got.Initiative.RelatedKeys)
	assert.Equal(t, model.StagePassed, got.Classification.Stage)
	assert.Equal(t, "passed", got.Classification.Reason.Rule)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListInitiatives_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`AND c.stage = \$1 AND i.kind = \$2 AND i.promoter ILIKE '%' \|\| \$3 \|\| '%' AND i.legislature = \$4 ORDER BY i.expediente LIMIT \$5 OFFSET \$6`).
		WithArgs("committee", "Proyecto de ley", "Vasco", "15", 20, 40).
		WillReturnRows(pgxmock.NewRows([]string{"expediente"}))

	got, err := s.ListInitiatives(context.Background(), InitiativeFilter{
		Stage: model.StageCommittee, Kind: "Proyecto de ley", Promoter: "Vasco", Legislature: "15", Limit: 20, Offset: 40,
	})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Counts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	for i, table := range Tables {
		mock.ExpectQuery(`SELECT count\(\*\) FROM "` + table + `"`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(i)))
	}

	got, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got[TableInitiatives])
	assert.Equal(t, int64(4), got[TableRuns])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO ingest_runs`).
		WithArgs("run-1", "running", "data", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE ingest_runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE ingest_runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "run-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	run, err := s.StartRun(ctx, "run-1", "data")
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	require.NoError(t, s.CompleteRun(ctx, "run-1", model.NewRunSummary("run-1")))

	err = s.FailRun(ctx, "run-2", nil, "boom")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	errMsg := "store unreachable"

	mock.ExpectQuery(`FROM ingest_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "source_dir", "started_at", "completed_at", "summary", "error"}).
			AddRow("run-1", "complete", "data", started, &started, []byte(`{"run_id":"run-1","processed":7}`), (*string)(nil)).
			AddRow("run-0", "failed", "data", started, (*time.Time)(nil), []byte(nil), &errMsg))

	runs, err := s.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 7, runs[0].Summary.Processed)
	assert.Equal(t, model.RunStatusFailed, runs[1].Status)
	assert.Equal(t, errMsg, runs[1].Error)
	assert.Nil(t, runs[1].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_FreshDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, name := range names {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS initiatives`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs(name).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_AlreadyApplied(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)

	applied := pgxmock.NewRows([]string{"filename"})
	for _, n := range names {
		applied.AddRow(n)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).WillReturnRows(applied)
	mock.ExpectCommit()

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_LockFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).WillReturnError(fmt.Errorf("timeout"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advisory lock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_FailedMigrationReleasesLockWithRollback(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	// The failing migration runs in the lock's transaction; no unlock
	// statement is sent through the pool.
	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS initiatives`).WillReturnError(fmt.Errorf("syntax error"))
	mock.ExpectRollback()

	err = Migrate(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate: apply "+names[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
