package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/lychee-technology/registra"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	sqliteCreateDocumentsTable = `
CREATE TABLE IF NOT EXISTS schema_documents (
	schema_id   TEXT    NOT NULL,
	major       INTEGER NOT NULL,
	minor       INTEGER NOT NULL,
	patch       INTEGER NOT NULL,
	document    BLOB    NOT NULL,
	fingerprint TEXT    NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	PRIMARY KEY (schema_id, major, minor, patch)
)`

	sqliteCreateLatestTable = `
CREATE TABLE IF NOT EXISTS schema_latest (
	schema_id TEXT PRIMARY KEY,
	major     INTEGER NOT NULL,
	minor     INTEGER NOT NULL,
	patch     INTEGER NOT NULL
)`
)

// SQLiteBackend stores version records in a local SQLite database. Documents
// are serialized to JSON and snappy-compressed before insert. Publish runs as
// an immediate transaction so the pointer check and the record insert are one
// atomic step.
type SQLiteBackend struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteBackend(path string, logger *zap.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open sqlite database %s: %w", path, err)
	}

	for _, ddl := range []string{sqliteCreateDocumentsTable, sqliteCreateLatestTable} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: failed to initialize sqlite schema: %w", err)
		}
	}

	logger.Info("sqlite backend ready", zap.String("path", path))
	return &SQLiteBackend{db: db, logger: logger}, nil
}

func (b *SQLiteBackend) Publish(ctx context.Context, rec *registra.VersionRecord, expectLatest *registra.Version) error {
	blob, err := encodeDocument(rec.Document)
	if err != nil {
		return err
	}
	id := rec.Document.ID

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: failed to begin publish transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanLatestRow(tx.QueryRowContext(ctx,
		`SELECT major, minor, patch FROM schema_latest WHERE schema_id = ?`, id))
	if err != nil {
		return fmt.Errorf("registry: failed to read latest pointer: %w", err)
	}
	if !versionPtrEqual(current, expectLatest) {
		return registra.NewConflictError(id, "latest pointer moved during publish")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_documents (schema_id, major, minor, patch, document, fingerprint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, rec.Version.Major, rec.Version.Minor, rec.Version.Patch,
		blob, rec.Fingerprint, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isSQLiteConstraintErr(err) {
			return registra.NewConflictError(id, "version already published").WithVersion(rec.Version.String())
		}
		return fmt.Errorf("registry: failed to insert version record: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_latest (schema_id, major, minor, patch) VALUES (?, ?, ?, ?)
		 ON CONFLICT(schema_id) DO UPDATE SET major = excluded.major, minor = excluded.minor, patch = excluded.patch`,
		id, rec.Version.Major, rec.Version.Minor, rec.Version.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to advance latest pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit publish: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) GetVersion(ctx context.Context, id string, version registra.Version) (*registra.VersionRecord, error) {
	var (
		blob        []byte
		fingerprint string
		createdAt   string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT document, fingerprint, created_at FROM schema_documents
		 WHERE schema_id = ? AND major = ? AND minor = ? AND patch = ?`,
		id, version.Major, version.Minor, version.Patch).
		Scan(&blob, &fingerprint, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registra.NewVersionNotFoundError(id, version)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read version record: %w", err)
	}

	doc, err := decodeDocument(blob)
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to parse created_at %q: %w", createdAt, err)
	}
	return &registra.VersionRecord{
		Document:    doc,
		Version:     version,
		Fingerprint: fingerprint,
		CreatedAt:   ts,
	}, nil
}

func (b *SQLiteBackend) LatestPointer(ctx context.Context, id string) (*registra.Version, error) {
	ptr, err := scanLatestRow(b.db.QueryRowContext(ctx,
		`SELECT major, minor, patch FROM schema_latest WHERE schema_id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("registry: failed to read latest pointer: %w", err)
	}
	return ptr, nil
}

func (b *SQLiteBackend) SetLatestPointer(ctx context.Context, id string, expect *registra.Version, next registra.Version) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: failed to begin pointer transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanLatestRow(tx.QueryRowContext(ctx,
		`SELECT major, minor, patch FROM schema_latest WHERE schema_id = ?`, id))
	if err != nil {
		return fmt.Errorf("registry: failed to read latest pointer: %w", err)
	}
	if !versionPtrEqual(current, expect) {
		return registra.NewConflictError(id, "latest pointer moved during repair")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO schema_latest (schema_id, major, minor, patch) VALUES (?, ?, ?, ?)
		 ON CONFLICT(schema_id) DO UPDATE SET major = excluded.major, minor = excluded.minor, patch = excluded.patch`,
		id, next.Major, next.Minor, next.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to write latest pointer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit pointer update: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) ListVersions(ctx context.Context, id string) ([]registra.Version, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT major, minor, patch FROM schema_documents WHERE schema_id = ?
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

func (b *SQLiteBackend) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT schema_id FROM schema_documents`)
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

func (b *SQLiteBackend) DeleteVersion(ctx context.Context, id string, version registra.Version) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM schema_documents WHERE schema_id = ? AND major = ? AND minor = ? AND patch = ?`,
		id, version.Major, version.Minor, version.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to delete version record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return registra.NewVersionNotFoundError(id, version)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM schema_latest WHERE schema_id = ? AND major = ? AND minor = ? AND patch = ?`,
		id, version.Major, version.Minor, version.Patch)
	if err != nil {
		return fmt.Errorf("registry: failed to clear latest pointer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit delete: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) DeleteAll(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM schema_documents WHERE schema_id = ?`, id)
	if err != nil {
		return fmt.Errorf("registry: failed to delete schema history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return registra.NewSchemaNotFoundError(id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_latest WHERE schema_id = ?`, id); err != nil {
		return fmt.Errorf("registry: failed to clear latest pointer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: failed to commit delete: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func scanLatestRow(row *sql.Row) (*registra.Version, error) {
	var v registra.Version
	err := row.Scan(&v.Major, &v.Minor, &v.Patch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeDocument(doc *registra.SchemaDocument) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to marshal document: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeDocument(blob []byte) (*registra.SchemaDocument, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to decompress document: %w", err)
	}
	doc, err := registra.ParseSchemaDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to decode stored document: %w", err)
	}
	return doc, nil
}

func isSQLiteConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}
