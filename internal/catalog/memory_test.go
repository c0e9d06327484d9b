package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/withObsrvr/clearinghouse/internal/parser"
)

func testClaim(key string) FileClaim {
	return FileClaim{
		Bucket:   "test-bucket",
		Key:      key,
		FileName: key,
		Size:     42,
		Hash:     "deadbeef",
	}
}

func TestTryClaimFirstWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, err := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	if !res.Claimed {
		t.Fatal("first claim should win")
	}
	if res.ID == 0 {
		t.Error("claimed entry should have an ID")
	}

	entry, ok := store.Entry("test-bucket", "incoming/a.json")
	if !ok {
		t.Fatal("entry not found after claim")
	}
	if entry.Status != StatusProcessing {
		t.Errorf("entry status = %s, want %s", entry.Status, StatusProcessing)
	}
}

func TestTryClaimSecondLoses(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	first, err := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	second, err := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err != nil {
		t.Fatalf("second TryClaim failed: %v", err)
	}

	if second.Claimed {
		t.Error("second claim should lose")
	}
	if second.ID != first.ID {
		t.Errorf("second claim reported ID %d, want %d", second.ID, first.ID)
	}
	if second.ExistingStatus != StatusProcessing {
		t.Errorf("existing status = %s, want %s", second.ExistingStatus, StatusProcessing)
	}
}

func TestTryClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	const workers = 20
	var wg sync.WaitGroup
	results := make([]ClaimResult, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.TryClaim(ctx, testClaim("incoming/contested.json"))
			if err != nil {
				t.Errorf("TryClaim failed: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res.Claimed {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("got %d claim winners, want exactly 1", winners)
	}
}

func TestTryClaimAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, err := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, res.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	again, err := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err != nil {
		t.Fatalf("TryClaim after completion failed: %v", err)
	}
	if again.Claimed {
		t.Error("completed file must not be reclaimable")
	}
	if again.ExistingStatus != StatusCompleted {
		t.Errorf("existing status = %s, want %s", again.ExistingStatus, StatusCompleted)
	}
}

func TestMarkCompleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	completedAt := time.Now().UTC()
	if err := store.MarkCompleted(ctx, res.ID, completedAt); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	entry, _ := store.Entry("test-bucket", "incoming/a.json")
	if entry.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", entry.Status, StatusCompleted)
	}
	if entry.ProcessedAt == nil || !entry.ProcessedAt.Equal(completedAt) {
		t.Errorf("processed_at = %v, want %v", entry.ProcessedAt, completedAt)
	}
}

func TestMarkFailedRecordsMessage(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err := store.MarkFailed(ctx, res.ID, "unsupported input shape"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	entry, _ := store.Entry("test-bucket", "incoming/a.json")
	if entry.Status != StatusFailed {
		t.Errorf("status = %s, want %s", entry.Status, StatusFailed)
	}
	if entry.ErrorMessage == "" {
		t.Error("failed entry should carry an error message")
	}
}

func TestTerminalTransitionsAreStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err := store.MarkCompleted(ctx, res.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	if err := store.MarkCompleted(ctx, res.ID, time.Now().UTC()); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("re-completing: got %v, want ErrStaleTransition", err)
	}
	if err := store.MarkFailed(ctx, res.ID, "late failure"); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("failing a completed entry: got %v, want ErrStaleTransition", err)
	}
	if err := store.MarkCompleted(ctx, 9999, time.Now().UTC()); !errors.Is(err, ErrStaleTransition) {
		t.Errorf("completing unknown entry: got %v, want ErrStaleTransition", err)
	}
}

func TestInsertRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	records := []parser.Record{
		{Type: "transaction", Payload: []byte(`{"id":"a"}`)},
		{Type: "refund", Payload: []byte(`{"id":"b","type":"refund"}`)},
	}

	n, err := store.InsertRecords(ctx, res.ID, records)
	if err != nil {
		t.Fatalf("InsertRecords failed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted %d records, want 2", n)
	}

	stored := store.Records(res.ID)
	if len(stored) != 2 {
		t.Fatalf("got %d stored records, want 2", len(stored))
	}
	if stored[1].Type != "refund" {
		t.Errorf("record type = %q, want refund", stored[1].Type)
	}
}

func TestInsertRecordsRequiresProcessingStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err := store.MarkCompleted(ctx, res.ID, time.Now().UTC()); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	_, err := store.InsertRecords(ctx, res.ID, []parser.Record{{Type: "transaction", Payload: []byte(`{}`)}})
	if !errors.Is(err, ErrStaleTransition) {
		t.Errorf("got %v, want ErrStaleTransition", err)
	}
	if got := store.Records(res.ID); len(got) != 0 {
		t.Errorf("records inserted despite terminal status: %d", len(got))
	}
}

func TestKnownKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	a, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	store.MarkCompleted(ctx, a.ID, time.Now().UTC())
	b, _ := store.TryClaim(ctx, testClaim("incoming/b.json"))
	store.MarkFailed(ctx, b.ID, "bad shape")
	store.TryClaim(ctx, testClaim("incoming/c.json"))

	known, err := store.KnownKeys(ctx, "test-bucket")
	if err != nil {
		t.Fatalf("KnownKeys failed: %v", err)
	}
	if len(known) != 3 {
		t.Fatalf("got %d known keys, want 3", len(known))
	}
	if known["incoming/a.json"] != StatusCompleted {
		t.Errorf("a.json status = %s, want %s", known["incoming/a.json"], StatusCompleted)
	}
	if known["incoming/b.json"] != StatusFailed {
		t.Errorf("b.json status = %s, want %s", known["incoming/b.json"], StatusFailed)
	}
	if known["incoming/c.json"] != StatusProcessing {
		t.Errorf("c.json status = %s, want %s", known["incoming/c.json"], StatusProcessing)
	}

	other, err := store.KnownKeys(ctx, "other-bucket")
	if err != nil {
		t.Fatalf("KnownKeys failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("got %d keys for unrelated bucket, want 0", len(other))
	}
}

func TestDeleteAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	res, _ := store.TryClaim(ctx, testClaim("incoming/a.json"))
	store.InsertRecords(ctx, res.ID, []parser.Record{{Type: "transaction", Payload: []byte(`{}`)}})
	store.MarkFailed(ctx, res.ID, "transient")

	store.Delete("test-bucket", "incoming/a.json")

	again, err := store.TryClaim(ctx, testClaim("incoming/a.json"))
	if err != nil {
		t.Fatalf("TryClaim after delete failed: %v", err)
	}
	if !again.Claimed {
		t.Error("deleting the ledger row should allow reprocessing")
	}
	if len(store.Records(res.ID)) != 0 {
		t.Error("delete should drop the old entry's records")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusProcessing.Terminal() {
		t.Error("processing is not terminal")
	}
	if !StatusCompleted.Terminal() {
		t.Error("completed is terminal")
	}
	if !StatusFailed.Terminal() {
		t.Error("failed is terminal")
	}
}
