// Package catalog is the durable record of file-processing attempts and
// the normalized records extracted from them.
//
// The ledger table owns the (bucket, key) uniqueness invariant; its atomic
// conditional insert is what makes running several ingestor replicas safe.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/clearinghouse/internal/parser"
)

// Status is the processing state of a ledger entry.
type Status string

const (
	// StatusProcessing marks an entry claimed by an ingestor. Transient.
	StatusProcessing Status = "processing"

	// StatusCompleted is terminal success.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed is terminal failure pending manual intervention.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status is COMPLETED or FAILED.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrStaleTransition is returned when completing or failing an entry that
// is not currently in the processing state. It implies a concurrency or
// logic bug and is logged as a severe anomaly by the caller.
var ErrStaleTransition = errors.New("entry is not in processing state")

// FileClaim carries everything recorded at claim time.
type FileClaim struct {
	Bucket   string
	Key      string
	FileName string
	Size     int64
	Hash     string // SHA-256 hex digest of the file bytes
	Metadata map[string]string
}

// ClaimResult is the outcome of TryClaim.
type ClaimResult struct {
	Claimed        bool
	ID             int64  // set when Claimed
	ExistingStatus Status // set when not Claimed
}

// LedgerEntry is one row of the file processing ledger.
type LedgerEntry struct {
	ID           int64
	Bucket       string
	Key          string
	FileName     string
	Size         int64
	Hash         string
	Status       Status
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProcessedAt  *time.Time // set only on terminal success
}

// LedgerStore is the contract the ingestion core consumes for the ledger.
type LedgerStore interface {
	// TryClaim atomically inserts a new entry in the processing state if
	// no row exists for (bucket, key). If a row already exists its current
	// status is returned without mutating it. This single operation is the
	// at-most-once guarantee for concurrent pollers.
	TryClaim(ctx context.Context, claim FileClaim) (ClaimResult, error)

	// MarkCompleted transitions a processing entry to terminal success.
	// Returns ErrStaleTransition if the entry is not processing.
	MarkCompleted(ctx context.Context, id int64, completedAt time.Time) error

	// MarkFailed transitions a processing entry to terminal failure,
	// recording the error message. Same guard as MarkCompleted.
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	// KnownKeys returns every key already present in the ledger for the
	// bucket with its status. Used as a read-only prefilter so completed
	// files are not re-fetched each cycle; TryClaim remains the sole
	// correctness arbiter.
	KnownKeys(ctx context.Context, bucket string) (map[string]Status, error)
}

// RecordStore is the contract for the parsed records table.
type RecordStore interface {
	// InsertRecords bulk-inserts all records for one file in a single
	// transaction: either every record becomes visible or none do. The
	// owning entry must still be in the processing state, otherwise
	// ErrStaleTransition is returned and nothing is written.
	InsertRecords(ctx context.Context, entryID int64, records []parser.Record) (int64, error)
}

// Store is the full catalog surface consumed by the ingestor.
type Store interface {
	LedgerStore
	RecordStore

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Config selects and configures the catalog backend.
type Config struct {
	Backend     string
	PostgresDSN string
}

// New creates a catalog store based on configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("PostgresDSN required for postgres backend")
		}
		return NewPostgres(ctx, cfg.PostgresDSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s", cfg.Backend)
	}
}
