package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/clearinghouse/internal/parser"
)

//go:embed schema.sql
var schemaSQL string

// querier is the subset of pgxpool.Pool the catalog issues statements
// through.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	db   querier
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to PostgreSQL and applies the catalog schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	p := &Postgres{
		db:   pool,
		pool: pool,
		log:  slog.With("component", "catalog"),
	}

	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	p.log.Info("connected to PostgreSQL catalog")
	return p, nil
}

// initSchema creates the catalog tables if they don't exist.
func (p *Postgres) initSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// TryClaim performs the conditional insert in one statement. The CTE and
// the fallback select run against the same snapshot, so exactly one of
// the two arms produces a row.
func (p *Postgres) TryClaim(ctx context.Context, claim FileClaim) (ClaimResult, error) {
	var metadata []byte
	if len(claim.Metadata) > 0 {
		b, err := json.Marshal(claim.Metadata)
		if err != nil {
			return ClaimResult{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = b
	}

	query := `
		WITH new_entry AS (
			INSERT INTO file_processing_log
				(file_name, bucket, key, file_size, file_hash, status, metadata)
			VALUES ($1, $2, $3, $4, $5, 'processing', $6)
			ON CONFLICT (bucket, key) DO NOTHING
			RETURNING id
		)
		SELECT id, NULL::text AS status FROM new_entry
		UNION ALL
		SELECT f.id, f.status FROM file_processing_log f
		WHERE f.bucket = $2 AND f.key = $3
		  AND NOT EXISTS (SELECT 1 FROM new_entry)
	`

	var id int64
	var existingStatus *string
	err := p.db.QueryRow(ctx, query,
		claim.FileName,
		claim.Bucket,
		claim.Key,
		claim.Size,
		claim.Hash,
		metadata,
	).Scan(&id, &existingStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Both arms came back empty: the insert lost to a concurrent
			// claim whose commit postdates this statement's snapshot, so
			// the fallback select could not see the winner's row yet. A
			// fresh statement gets a fresh snapshot and does.
			return p.lookupExisting(ctx, claim.Bucket, claim.Key)
		}
		return ClaimResult{}, fmt.Errorf("claim %s/%s: %w", claim.Bucket, claim.Key, err)
	}

	if existingStatus != nil {
		return ClaimResult{Claimed: false, ID: id, ExistingStatus: Status(*existingStatus)}, nil
	}
	return ClaimResult{Claimed: true, ID: id}, nil
}

// lookupExisting resolves a lost claim race by reading the winner's row.
func (p *Postgres) lookupExisting(ctx context.Context, bucket, key string) (ClaimResult, error) {
	var id int64
	var status string
	err := p.db.QueryRow(ctx,
		`SELECT id, status FROM file_processing_log WHERE bucket = $1 AND key = $2`,
		bucket, key).Scan(&id, &status)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim %s/%s: lookup after conflict: %w", bucket, key, err)
	}
	return ClaimResult{Claimed: false, ID: id, ExistingStatus: Status(status)}, nil
}

// MarkCompleted transitions a processing entry to COMPLETED.
func (p *Postgres) MarkCompleted(ctx context.Context, id int64, completedAt time.Time) error {
	query := `
		UPDATE file_processing_log
		SET status = 'COMPLETED', processed_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := p.db.Exec(ctx, query, id, completedAt)
	if err != nil {
		return fmt.Errorf("mark completed %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark completed %d: %w", id, ErrStaleTransition)
	}
	return nil
}

// MarkFailed transitions a processing entry to FAILED with an error message.
func (p *Postgres) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE file_processing_log
		SET status = 'FAILED', error_message = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	tag, err := p.db.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark failed %d: %w", id, ErrStaleTransition)
	}
	return nil
}

// KnownKeys returns every ledger key for the bucket with its status.
func (p *Postgres) KnownKeys(ctx context.Context, bucket string) (map[string]Status, error) {
	rows, err := p.db.Query(ctx,
		`SELECT key, status FROM file_processing_log WHERE bucket = $1`, bucket)
	if err != nil {
		return nil, fmt.Errorf("query known keys: %w", err)
	}
	defer rows.Close()

	known := make(map[string]Status)
	for rows.Next() {
		var key, status string
		if err := rows.Scan(&key, &status); err != nil {
			return nil, fmt.Errorf("scan known key: %w", err)
		}
		known[key] = Status(status)
	}
	return known, rows.Err()
}

// InsertRecords bulk-inserts the record set for one file in a single
// transaction. The owning entry is locked and re-checked so records are
// only ever written under a live processing claim.
func (p *Postgres) InsertRecords(ctx context.Context, entryID int64, records []parser.Record) (int64, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert records: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM file_processing_log WHERE id = $1 FOR SHARE`, entryID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("entry %d not found: %w", entryID, ErrStaleTransition)
		}
		return 0, fmt.Errorf("check entry %d: %w", entryID, err)
	}
	if Status(status) != StatusProcessing {
		return 0, fmt.Errorf("entry %d has status %s: %w", entryID, status, ErrStaleTransition)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"processed_data"},
		[]string{"file_log_id", "record_type", "record_data"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return []any{entryID, records[i].Type, []byte(records[i].Payload)}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy records for entry %d: %w", entryID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit records for entry %d: %w", entryID, err)
	}
	return n, nil
}

// Ping reports database reachability.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

// Close releases database connections.
func (p *Postgres) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
