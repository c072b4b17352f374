package internal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/registra"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockedPostgres(t *testing.T) (pgxmock.PgxPoolIface, *PostgresBackend) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	mock.MatchExpectationsInOrder(true)
	return mock, NewPostgresBackend(mock, zap.NewNop())
}

func pgRecord(version string) *registra.VersionRecord {
	doc := tickDoc(version)
	return &registra.VersionRecord{
		Document:    doc,
		Version:     registra.MustParseVersion(version),
		Fingerprint: Fingerprint(doc),
		CreatedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresPublishFreshID(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)
	rec := pgRecord("1.0.0")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT major, minor, patch FROM schema_latest WHERE schema_id = \$1 FOR UPDATE`).
		WithArgs("ticks_v1").
		WillReturnRows(pgxmock.NewRows([]string{"major", "minor", "patch"}))
	mock.ExpectExec(`INSERT INTO schema_documents`).
		WithArgs("ticks_v1", 1, 0, 0, pgxmock.AnyArg(), rec.Fingerprint, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO schema_latest`).
		WithArgs("ticks_v1", 1, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, backend.Publish(ctx, rec, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublishLostRace(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)
	rec := pgRecord("1.1.0")

	// The pointer moved to 1.0.0 after this publisher read its baseline.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT major, minor, patch FROM schema_latest WHERE schema_id = \$1 FOR UPDATE`).
		WithArgs("ticks_v1").
		WillReturnRows(pgxmock.NewRows([]string{"major", "minor", "patch"}).AddRow(1, 0, 0))
	mock.ExpectRollback()

	err := backend.Publish(ctx, rec, nil)
	require.Error(t, err)
	assert.True(t, registra.IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPublishDuplicateVersion(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)
	rec := pgRecord("1.1.0")
	expect := registra.MustParseVersion("1.0.0")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT major, minor, patch FROM schema_latest WHERE schema_id = \$1 FOR UPDATE`).
		WithArgs("ticks_v1").
		WillReturnRows(pgxmock.NewRows([]string{"major", "minor", "patch"}).AddRow(1, 0, 0))
	mock.ExpectExec(`INSERT INTO schema_documents`).
		WithArgs("ticks_v1", 1, 1, 0, pgxmock.AnyArg(), rec.Fingerprint, rec.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := backend.Publish(ctx, rec, &expect)
	require.Error(t, err)
	assert.True(t, registra.IsConflict(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVersion(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)
	rec := pgRecord("1.0.0")

	raw, err := json.Marshal(rec.Document)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT document, fingerprint, created_at FROM schema_documents`).
		WithArgs("ticks_v1", 1, 0, 0).
		WillReturnRows(pgxmock.NewRows([]string{"document", "fingerprint", "created_at"}).
			AddRow(raw, rec.Fingerprint, rec.CreatedAt))

	got, err := backend.GetVersion(ctx, "ticks_v1", rec.Version)
	require.NoError(t, err)
	assert.Equal(t, rec.Fingerprint, got.Fingerprint)
	assert.Equal(t, rec.Document.Properties.Names(), got.Document.Properties.Names())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVersionNotFound(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)

	mock.ExpectQuery(`SELECT document, fingerprint, created_at FROM schema_documents`).
		WithArgs("ticks_v1", 9, 9, 9).
		WillReturnRows(pgxmock.NewRows([]string{"document", "fingerprint", "created_at"}))

	_, err := backend.GetVersion(ctx, "ticks_v1", registra.MustParseVersion("9.9.9"))
	require.Error(t, err)
	assert.True(t, registra.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatestPointerUnset(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)

	mock.ExpectQuery(`SELECT major, minor, patch FROM schema_latest WHERE schema_id = \$1`).
		WithArgs("ticks_v1").
		WillReturnRows(pgxmock.NewRows([]string{"major", "minor", "patch"}))

	ptr, err := backend.LatestPointer(ctx, "ticks_v1")
	require.NoError(t, err)
	assert.Nil(t, ptr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListVersions(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)

	mock.ExpectQuery(`SELECT major, minor, patch FROM schema_documents WHERE schema_id = \$1`).
		WithArgs("ticks_v1").
		WillReturnRows(pgxmock.NewRows([]string{"major", "minor", "patch"}).
			AddRow(2, 0, 0).
			AddRow(1, 1, 0).
			AddRow(1, 0, 0))

	versions, err := backend.ListVersions(ctx, "ticks_v1")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "2.0.0", versions[0].String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteVersionNotFound(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM schema_documents`).
		WithArgs("ticks_v1", 1, 0, 0).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := backend.DeleteVersion(ctx, "ticks_v1", registra.MustParseVersion("1.0.0"))
	require.Error(t, err)
	assert.True(t, registra.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteVersionClearsPointer(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM schema_documents`).
		WithArgs("ticks_v1", 1, 1, 0).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM schema_latest`).
		WithArgs("ticks_v1", 1, 1, 0).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, backend.DeleteVersion(ctx, "ticks_v1", registra.MustParseVersion("1.1.0")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	ctx := context.Background()
	mock, backend := newMockedPostgres(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_documents`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_latest`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, backend.Migrate(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
