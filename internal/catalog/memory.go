package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/withObsrvr/clearinghouse/internal/parser"
)

// Memory implements Store with in-process maps. It backs local development
// runs and tests; the mutex gives TryClaim the same atomicity the unique
// index gives the Postgres backend.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string]*LedgerEntry // keyed by bucket + "\x00" + key
	records map[int64][]StoredRecord
}

// StoredRecord is one row of the in-memory processed_data table.
type StoredRecord struct {
	EntryID   int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// NewMemory creates an empty in-memory catalog.
func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		entries: make(map[string]*LedgerEntry),
		records: make(map[int64][]StoredRecord),
	}
}

func memKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (m *Memory) TryClaim(_ context.Context, claim FileClaim) (ClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(claim.Bucket, claim.Key)
	if existing, ok := m.entries[k]; ok {
		return ClaimResult{Claimed: false, ID: existing.ID, ExistingStatus: existing.Status}, nil
	}

	now := time.Now().UTC()
	entry := &LedgerEntry{
		ID:        m.nextID,
		Bucket:    claim.Bucket,
		Key:       claim.Key,
		FileName:  claim.FileName,
		Size:      claim.Size,
		Hash:      claim.Hash,
		Status:    StatusProcessing,
		Metadata:  claim.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.nextID++
	m.entries[k] = entry
	return ClaimResult{Claimed: true, ID: entry.ID}, nil
}

func (m *Memory) MarkCompleted(_ context.Context, id int64, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.findLocked(id)
	if entry == nil || entry.Status != StatusProcessing {
		return fmt.Errorf("mark completed %d: %w", id, ErrStaleTransition)
	}
	entry.Status = StatusCompleted
	entry.ProcessedAt = &completedAt
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.findLocked(id)
	if entry == nil || entry.Status != StatusProcessing {
		return fmt.Errorf("mark failed %d: %w", id, ErrStaleTransition)
	}
	entry.Status = StatusFailed
	entry.ErrorMessage = errMsg
	entry.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) KnownKeys(_ context.Context, bucket string) (map[string]Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]Status)
	for _, entry := range m.entries {
		if entry.Bucket == bucket {
			known[entry.Key] = entry.Status
		}
	}
	return known, nil
}

func (m *Memory) InsertRecords(_ context.Context, entryID int64, records []parser.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.findLocked(entryID)
	if entry == nil {
		return 0, fmt.Errorf("entry %d not found: %w", entryID, ErrStaleTransition)
	}
	if entry.Status != StatusProcessing {
		return 0, fmt.Errorf("entry %d has status %s: %w", entryID, entry.Status, ErrStaleTransition)
	}

	now := time.Now().UTC()
	batch := make([]StoredRecord, 0, len(records))
	for _, rec := range records {
		batch = append(batch, StoredRecord{
			EntryID:   entryID,
			Type:      rec.Type,
			Payload:   append([]byte(nil), rec.Payload...),
			CreatedAt: now,
		})
	}
	m.records[entryID] = append(m.records[entryID], batch...)
	return int64(len(batch)), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

// Entry returns a copy of the ledger entry for (bucket, key), if any.
func (m *Memory) Entry(bucket, key string) (LedgerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[memKey(bucket, key)]
	if !ok {
		return LedgerEntry{}, false
	}
	return *entry, true
}

// Records returns the stored records for a ledger entry.
func (m *Memory) Records(entryID int64) []StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]StoredRecord(nil), m.records[entryID]...)
}

// Delete removes a ledger entry and its records. This mirrors the
// operator escape hatch of deleting a row to force reprocessing.
func (m *Memory) Delete(bucket, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey(bucket, key)
	if entry, ok := m.entries[k]; ok {
		delete(m.records, entry.ID)
		delete(m.entries, k)
	}
}

func (m *Memory) findLocked(id int64) *LedgerEntry {
	for _, entry := range m.entries {
		if entry.ID == id {
			return entry
		}
	}
	return nil
}
