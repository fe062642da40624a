package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/schema"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const defaultListLimit = 100

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	shape shaper

	// mu serializes writes; readers go straight to the pool.
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. reg, when set, shapes stored fields on read.
func NewSQLite(dsn string, reg *schema.Registry) (*SQLiteStore, error) {
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
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, shape: shaper{registry: reg}}, nil
}

// Migrate applies every embedded migration not yet recorded.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return ctx.Err()
}

// migrateTo moves the schema to an exact version.
func (s *SQLiteStore) migrateTo(version uint) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return eris.Wrapf(err, "sqlite: migrate to %d", version)
	}
	return nil
}

// migrator is not closed: closing it would close the shared *sql.DB.
func (s *SQLiteStore) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open migrations")
	}
	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: migrator")
	}
	return m, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec *model.Record) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}
	version := rec.RecordVersion
	if version == 0 {
		version = model.RecordVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (document_id, schema_name, fields, confidence_score, model_version,
			extracted_at, total_attempts, final_outcome, record_version, source_path, source_sha256)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			schema_name = excluded.schema_name,
			fields = excluded.fields,
			confidence_score = excluded.confidence_score,
			model_version = excluded.model_version,
			extracted_at = excluded.extracted_at,
			total_attempts = excluded.total_attempts,
			final_outcome = excluded.final_outcome,
			record_version = excluded.record_version,
			source_path = excluded.source_path,
			source_sha256 = excluded.source_sha256`,
		rec.DocumentID, rec.SchemaName, fields, rec.Confidence, rec.ModelVersion,
		formatTime(rec.ExtractedAt), rec.TotalAttempts, string(rec.Outcome), version,
		rec.SourcePath, rec.SourceSHA256,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert record %s", rec.DocumentID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM failures WHERE document_id = ?`, rec.DocumentID); err != nil {
		return eris.Wrapf(err, "sqlite: clear failure %s", rec.DocumentID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert")
}

const sqliteRecordColumns = `document_id, schema_name, fields, confidence_score, model_version,
	extracted_at, total_attempts, final_outcome, record_version, source_path, source_sha256`

func (s *SQLiteStore) Get(ctx context.Context, documentID string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+` FROM records WHERE document_id = ?`, documentID)
	rec, err := s.scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s", documentID)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	var where []string
	var args []any
	if filter.SchemaName != "" {
		where = append(where, "schema_name = ?")
		args = append(args, filter.SchemaName)
	}
	if filter.Outcome != "" {
		where = append(where, "final_outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	query := `SELECT ` + sqliteRecordColumns + ` FROM records` + whereClause(where) +
		` ORDER BY extracted_at DESC, document_id ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, fr *model.FailureReport) error {
	if err := checkFailure(fr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (document_id, schema_name, total_attempts, last_error_kind,
			last_error_detail, failed_at, source_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			schema_name = excluded.schema_name,
			total_attempts = excluded.total_attempts,
			last_error_kind = excluded.last_error_kind,
			last_error_detail = excluded.last_error_detail,
			failed_at = excluded.failed_at,
			source_path = excluded.source_path`,
		fr.DocumentID, fr.SchemaName, fr.TotalAttempts, string(fr.LastErrorKind),
		fr.LastErrorDetail, formatTime(fr.FailedAt), fr.SourcePath,
	)
	return eris.Wrapf(err, "sqlite: record failure %s", fr.DocumentID)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailureReport, error) {
	var where []string
	var args []any
	if filter.SchemaName != "" {
		where = append(where, "schema_name = ?")
		args = append(args, filter.SchemaName)
	}
	if filter.Kind != "" {
		where = append(where, "last_error_kind = ?")
		args = append(args, string(filter.Kind))
	}
	query := `SELECT document_id, schema_name, total_attempts, last_error_kind, last_error_detail,
		failed_at, source_path FROM failures` + whereClause(where) +
		` ORDER BY failed_at DESC, document_id ASC LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FailureReport
	for rows.Next() {
		var fr model.FailureReport
		var kind, failedAt string
		var path sql.NullString
		if err := rows.Scan(&fr.DocumentID, &fr.SchemaName, &fr.TotalAttempts, &kind,
			&fr.LastErrorDetail, &failedAt, &path); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		fr.LastErrorKind = model.Outcome(kind)
		if fr.FailedAt, err = parseTime(failedAt); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse failed_at for %s", fr.DocumentID)
		}
		fr.SourcePath = nullableString(path)
		out = append(out, fr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.StoreStats, error) {
	st := &model.StoreStats{FailuresByKind: make(map[model.Outcome]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence_score), 0) FROM records`,
	).Scan(&st.Records, &st.AverageConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count records")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT schema_name, COUNT(*), AVG(confidence_score)
		FROM records GROUP BY schema_name ORDER BY schema_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by schema")
	}
	for rows.Next() {
		var ss model.SchemaStats
		if err := rows.Scan(&ss.SchemaName, &ss.Records, &ss.AverageConfidence); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan schema stats")
		}
		st.BySchema = append(st.BySchema, ss)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by schema iterate")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT last_error_kind, COUNT(*) FROM failures GROUP BY last_error_kind`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats by kind")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure stats")
		}
		st.FailuresByKind[model.Outcome(kind)] = n
		st.Failures += n
	}
	return st, eris.Wrap(rows.Err(), "sqlite: stats by kind iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRecord(row scannable) (*model.Record, error) {
	var rec model.Record
	var fields, outcome, extractedAt string
	var path, sum sql.NullString
	err := row.Scan(&rec.DocumentID, &rec.SchemaName, &fields, &rec.Confidence, &rec.ModelVersion,
		&extractedAt, &rec.TotalAttempts, &outcome, &rec.RecordVersion, &path, &sum)
	if err != nil {
		return nil, err
	}
	rec.Outcome = model.Outcome(outcome)
	if rec.ExtractedAt, err = parseTime(extractedAt); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse extracted_at for %s", rec.DocumentID)
	}
	if rec.Fields, err = s.shape.decode(rec.SchemaName, []byte(fields)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: record %s", rec.DocumentID)
	}
	rec.SourcePath = nullableString(path)
	rec.SourceSHA256 = nullableString(sum)
	return &rec, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
