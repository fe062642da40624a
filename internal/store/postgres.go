package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-cli/internal/model"
	"github.com/sells-group/extract-cli/internal/schema"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	shape   shaper
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, reg *schema.Registry) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(8)
	minConns := int32(1)
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
	return &PostgresStore{pool: pool, shape: shaper{registry: reg}, closeFn: pool.Close}, nil
}

// postgresMigration is idempotent; columns added after the first release
// use ADD COLUMN IF NOT EXISTS.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	document_id      TEXT PRIMARY KEY,
	schema_name      TEXT NOT NULL,
	fields           JSONB NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
	model_version    TEXT NOT NULL,
	extracted_at     TIMESTAMPTZ NOT NULL,
	total_attempts   INTEGER NOT NULL,
	final_outcome    TEXT NOT NULL,
	record_version   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS failures (
	document_id       TEXT PRIMARY KEY,
	schema_name       TEXT NOT NULL,
	total_attempts    INTEGER NOT NULL,
	last_error_kind   TEXT NOT NULL,
	last_error_detail TEXT NOT NULL DEFAULT '',
	failed_at         TIMESTAMPTZ NOT NULL
);

ALTER TABLE records ADD COLUMN IF NOT EXISTS source_path TEXT;
ALTER TABLE records ADD COLUMN IF NOT EXISTS source_sha256 TEXT;
ALTER TABLE failures ADD COLUMN IF NOT EXISTS source_path TEXT;

CREATE INDEX IF NOT EXISTS idx_records_schema_name ON records(schema_name);
CREATE INDEX IF NOT EXISTS idx_records_extracted_at ON records(extracted_at DESC);
CREATE INDEX IF NOT EXISTS idx_failures_kind ON failures(last_error_kind);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const upsertRecordSQL = `INSERT INTO records (document_id, schema_name, fields, confidence_score, model_version,
	extracted_at, total_attempts, final_outcome, record_version, source_path, source_sha256)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (document_id) DO UPDATE SET
	schema_name = EXCLUDED.schema_name,
	fields = EXCLUDED.fields,
	confidence_score = EXCLUDED.confidence_score,
	model_version = EXCLUDED.model_version,
	extracted_at = EXCLUDED.extracted_at,
	total_attempts = EXCLUDED.total_attempts,
	final_outcome = EXCLUDED.final_outcome,
	record_version = EXCLUDED.record_version,
	source_path = EXCLUDED.source_path,
	source_sha256 = EXCLUDED.source_sha256`

func (s *PostgresStore) Upsert(ctx context.Context, rec *model.Record) error {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, upsertRecordSQL,
		rec.DocumentID, rec.SchemaName, fields, rec.Confidence, rec.ModelVersion,
		rec.ExtractedAt.UTC(), rec.TotalAttempts, string(rec.Outcome), version,
		rec.SourcePath, rec.SourceSHA256,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert record %s", rec.DocumentID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM failures WHERE document_id = $1`, rec.DocumentID); err != nil {
		return eris.Wrapf(err, "postgres: clear failure %s", rec.DocumentID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert")
}

const postgresRecordColumns = `document_id, schema_name, fields, confidence_score, model_version,
	extracted_at, total_attempts, final_outcome, record_version, source_path, source_sha256`

func (s *PostgresStore) Get(ctx context.Context, documentID string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresRecordColumns+` FROM records WHERE document_id = $1`, documentID)
	rec, err := s.scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s", documentID)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT ` + postgresRecordColumns + ` FROM records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SchemaName != "" {
		query += fmt.Sprintf(` AND schema_name = $%d`, argIdx)
		args = append(args, filter.SchemaName)
		argIdx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(` AND final_outcome = $%d`, argIdx)
		args = append(args, string(filter.Outcome))
		argIdx++
	}
	query += ` ORDER BY extracted_at DESC, document_id ASC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) RecordFailure(ctx context.Context, fr *model.FailureReport) error {
	if err := checkFailure(fr); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO failures (document_id, schema_name, total_attempts, last_error_kind,
	last_error_detail, failed_at, source_path)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (document_id) DO UPDATE SET
	schema_name = EXCLUDED.schema_name,
	total_attempts = EXCLUDED.total_attempts,
	last_error_kind = EXCLUDED.last_error_kind,
	last_error_detail = EXCLUDED.last_error_detail,
	failed_at = EXCLUDED.failed_at,
	source_path = EXCLUDED.source_path`,
		fr.DocumentID, fr.SchemaName, fr.TotalAttempts, string(fr.LastErrorKind),
		fr.LastErrorDetail, fr.FailedAt.UTC(), fr.SourcePath,
	)
	return eris.Wrapf(err, "postgres: record failure %s", fr.DocumentID)
}

func (s *PostgresStore) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailureReport, error) {
	query := `SELECT document_id, schema_name, total_attempts, last_error_kind, last_error_detail,
	failed_at, source_path FROM failures WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SchemaName != "" {
		query += fmt.Sprintf(` AND schema_name = $%d`, argIdx)
		args = append(args, filter.SchemaName)
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND last_error_kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY failed_at DESC, document_id ASC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.FailureReport
	for rows.Next() {
		var fr model.FailureReport
		var kind string
		if err := rows.Scan(&fr.DocumentID, &fr.SchemaName, &fr.TotalAttempts, &kind,
			&fr.LastErrorDetail, &fr.FailedAt, &fr.SourcePath); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		fr.LastErrorKind = model.Outcome(kind)
		fr.FailedAt = fr.FailedAt.UTC()
		out = append(out, fr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.StoreStats, error) {
	st := &model.StoreStats{FailuresByKind: make(map[model.Outcome]int)}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence_score), 0) FROM records`,
	).Scan(&st.Records, &st.AverageConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count records")
	}

	rows, err := s.pool.Query(ctx, `SELECT schema_name, COUNT(*), AVG(confidence_score)
FROM records GROUP BY schema_name ORDER BY schema_name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by schema")
	}
	for rows.Next() {
		var ss model.SchemaStats
		if err := rows.Scan(&ss.SchemaName, &ss.Records, &ss.AverageConfidence); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan schema stats")
		}
		st.BySchema = append(st.BySchema, ss)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats by schema iterate")
	}

	rows, err = s.pool.Query(ctx, `SELECT last_error_kind, COUNT(*) FROM failures GROUP BY last_error_kind`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats by kind")
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure stats")
		}
		st.FailuresByKind[model.Outcome(kind)] = n
		st.Failures += n
	}
	return st, eris.Wrap(rows.Err(), "postgres: stats by kind iterate")
}

func (s *PostgresStore) scanRecord(row pgx.Row) (*model.Record, error) {
	var rec model.Record
	var fields []byte
	var outcome string
	err := row.Scan(&rec.DocumentID, &rec.SchemaName, &fields, &rec.Confidence, &rec.ModelVersion,
		&rec.ExtractedAt, &rec.TotalAttempts, &outcome, &rec.RecordVersion, &rec.SourcePath, &rec.SourceSHA256)
	if err != nil {
		return nil, err
	}
	rec.Outcome = model.Outcome(outcome)
	rec.ExtractedAt = rec.ExtractedAt.UTC()
	if rec.Fields, err = s.shape.decode(rec.SchemaName, fields); err != nil {
		return nil, eris.Wrapf(err, "postgres: record %s", rec.DocumentID)
	}
	return &rec, nil
}
