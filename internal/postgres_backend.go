package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/registra"
	"go.uber.org/zap"
)

const (
	pgCreateDocumentsTable = `
CREATE TABLE IF NOT EXISTS schema_documents (
	schema_id   TEXT        NOT NULL,
	major       INTEGER     NOT NULL,
	minor       INTEGER     NOT NULL,
	patch       INTEGER     NOT NULL,
	document    JSONB       NOT NULL,
	fingerprint TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (schema_id, major, minor, patch)
)`

	pgCreateLatestTable = `
CREATE TABLE IF NOT EXISTS schema_latest (
	schema_id TEXT PRIMARY KEY,
	major     INTEGER NOT NULL,
	minor     INTEGER NOT NULL,
	patch     INTEGER NOT NULL
)`

	pgUniqueViolation = "23505"
)

// schemaPool is the subset of pgxpool.Pool the backend actually uses. Tests
// substitute a pgxmock pool through the same interface.
type schemaPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresBackend stores version records in PostgreSQL. Publish locks the
// latest-pointer row FOR UPDATE so the pointer check, the record insert and
// the pointer advance commit as one unit; concurrent publishers against the
// same baseline serialize on that lock and the loser fails its pointer check.
type PostgresBackend struct {
	pool   schemaPool
	logger *zap.Logger
}

func NewPostgresBackend(pool schemaPool, logger *zap.Logger) *PostgresBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresBackend{pool: pool, logger: logger}
}

// Migrate creates the backing tables when they do not exist yet.
func (b *PostgresBackend) Migrate(ctx context.Context) error {
	for _, ddl := range []string{pgCreateDocumentsTable, pgCreateLatestTable} {
		if _, err := b.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("registry: failed to run migration: %w", err)
		}
	}
	return nil
}

func (b *PostgresBackend) Publish(ctx context.Context, rec *registra.VersionRecord, expectLatest *registra.Version) error {
	raw, err := json.Marshal(rec.Document)
	if err != nil {
		return fmt.Errorf("registry: failed to marshal document: %w", err)
	}
	id := rec.Document.ID

	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("registry: failed to begin publish transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPgLatest(tx.QueryRow(ctx,
		`SELECT major, minor, patch FROM schema_latest WHERE schema_id = $1 FOR UPDATE`, id))
	if err != nil {
		return fmt.Errorf("registry: failed to read latest pointer: %w", err)
	}
	if !versionPtrEqual(current, expectLatest) {
		return registra.NewConflictError(id, "latest pointer moved during publish")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO schema_documents (schema_id, major, minor, patch, document, fingerprint, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, rec.Version.Major, rec.Version.Minor, rec.Version.Patch,
		raw, rec.Fingerprint, rec.CreatedAt.UTC())
	if err != nil {
		if isPgUniqueViolation(err) {
			return registra.NewConflictError(id, "version already published").WithVersion(rec.Version.String())
		}
		return fmt.Errorf("registry: failed to insert version record: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO schema_latest (schema_id, major, minor, patch) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (schema_id) DO UPDATE SET major = excluded.major, minor = excluded.minor, patch = excluded.patch`,
		id, rec.Version.Major, rec.Version.Minor, rec.Version.Patch)
	if err != nil {
		if isPgUniqueViolation(err) {
			return registra.NewConflictError(id, "latest pointer moved during publish")
		}
		return fmt.Errorf("registry: failed to advance latest pointer: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: failed to commit publish: %w", err)
	}
	return nil
}

func (b *PostgresBackend) GetVersion(ctx context.Context, id string, version registra.Version) (*registra.VersionRecord, error) {
	var (
		raw         []byte
		fingerprint string
		createdAt   time.Time
	)
	err := b.pool.QueryRow(ctx,
		`SELECT document, fingerprint, created_at FROM schema_documents
		 WHERE schema_id = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		id, version.Major, version.Minor, version.Patch).
		Scan(&raw, &fingerprint, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, registra.NewVersionNotFoundError(id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read version record: %w", err)
	}

	doc, err := registra.ParseSchemaDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to decode stored document: %w", err)
	}
	return &registra.VersionRecord{
		Document:    doc,
		Version:     version,
		Fingerprint: fingerprint,
		CreatedAt:   createdAt,
	}, nil
}

func (b *PostgresBackend) LatestPointer(ctx context.Context, id string) (*registra.Version, error) {
	ptr, err := scanPgLatest(b.pool.QueryRow(ctx,
		`SELECT major, minor, patch FROM schema_latest WHERE schema_id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read latest pointer: %w", err)
	}
	return ptr, nil
}

func (b *PostgresBackend) SetLatestPointer(ctx context.Context, id string, expect *registra.Version, next registra.Version) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("registry: failed to begin pointer transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPgLatest(tx.QueryRow(ctx,
		`SELECT major, minor, patch FROM schema_latest WHERE schema_id = $1 FOR UPDATE`, id))
	if err != nil {
		return fmt.Errorf("registry: failed to read latest pointer: %w", err)
	}
	if !versionPtrEqual(current, expect) {
		return registra.NewConflictError(id, "latest pointer moved during repair")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO schema_latest (schema_id, major, minor, patch) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (schema_id) DO UPDATE SET major = excluded.major, minor = excluded.minor, patch = excluded.patch`,
		id, next.Major, next.Minor, next.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to write latest pointer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: failed to commit pointer update: %w", err)
	}
	return nil
}

func (b *PostgresBackend) ListVersions(ctx context.Context, id string) ([]registra.Version, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT major, minor, patch FROM schema_documents WHERE schema_id = $1
		 ORDER BY major DESC, minor DESC, patch DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []registra.Version
	for rows.Next() {
		var v registra.Version
		if err := rows.Scan(&v.Major, &v.Minor, &v.Patch); err != nil {
			return nil, fmt.Errorf("registry: failed to scan version row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (b *PostgresBackend) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `SELECT DISTINCT schema_id FROM schema_documents`)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to list schema ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("registry: failed to scan schema id: %w", err)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

func (b *PostgresBackend) DeleteVersion(ctx context.Context, id string, version registra.Version) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("registry: failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM schema_documents WHERE schema_id = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		id, version.Major, version.Minor, version.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to delete version record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registra.NewVersionNotFoundError(id, version)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM schema_latest WHERE schema_id = $1 AND major = $2 AND minor = $3 AND patch = $4`,
		id, version.Major, version.Minor, version.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to clear latest pointer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: failed to commit delete: %w", err)
	}
	return nil
}

func (b *PostgresBackend) DeleteAll(ctx context.Context, id string) error {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("registry: failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM schema_documents WHERE schema_id = $1`, id)
	if err != nil {
		return fmt.Errorf("registry: failed to delete schema history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registra.NewSchemaNotFoundError(id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM schema_latest WHERE schema_id = $1`, id); err != nil {
		return fmt.Errorf("registry: failed to clear latest pointer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("registry: failed to commit delete: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func scanPgLatest(row pgx.Row) (*registra.Version, error) {
	var v registra.Version
	err := row.Scan(&v.Major, &v.Minor, &v.Patch)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
