package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRow scripts one QueryRow result.
type fakeRow struct {
	err  error
	vals []any
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.vals) {
		return fmt.Errorf("scan got %d targets, want %d", len(dest), len(r.vals))
	}
	for i, v := range r.vals {
		switch d := dest[i].(type) {
		case *int64:
			d2, ok := v.(int64)
			if !ok {
				return fmt.Errorf("value %d is %T, want int64", i, v)
			}
			*d = d2
		case *string:
			d2, ok := v.(string)
			if !ok {
				return fmt.Errorf("value %d is %T, want string", i, v)
			}
			*d = d2
		case **string:
			if v == nil {
				*d = nil
				break
			}
			d2, ok := v.(string)
			if !ok {
				return fmt.Errorf("value %d is %T, want string", i, v)
			}
			*d = &d2
		default:
			return fmt.Errorf("unsupported scan target %T", dest[i])
		}
	}
	return nil
}

// fakeQuerier replays scripted rows for successive QueryRow calls and
// records the statements it sees.
type fakeQuerier struct {
	rows  []fakeRow
	calls []string
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	q.calls = append(q.calls, sql)
	if len(q.rows) == 0 {
		return fakeRow{err: fmt.Errorf("unexpected query: %s", sql)}
	}
	row := q.rows[0]
	q.rows = q.rows[1:]
	return row
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, fmt.Errorf("unexpected exec")
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected query")
}

func (q *fakeQuerier) Begin(context.Context) (pgx.Tx, error) {
	return nil, fmt.Errorf("unexpected begin")
}

func (q *fakeQuerier) Ping(context.Context) error { return nil }

func testPostgres(db querier) *Postgres {
	return &Postgres{db: db, log: slog.Default()}
}

// A concurrent claimer can commit its row after the claim statement's
// snapshot is taken: the insert arm skips on conflict and the fallback
// select cannot see the winner's row yet, so the statement returns no
// rows at all. The claim must resolve to a lost race, not an error.
func TestTryClaimConcurrentCommitResolvesToExisting(t *testing.T) {
	db := &fakeQuerier{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{vals: []any{int64(42), "processing"}},
	}}

	res, err := testPostgres(db).TryClaim(context.Background(), FileClaim{
		Bucket: "test-bucket",
		Key:    "incoming/contested.json",
	})
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	if res.Claimed {
		t.Error("losing a claim race must not report Claimed")
	}
	if res.ID != 42 {
		t.Errorf("ID = %d, want 42", res.ID)
	}
	if res.ExistingStatus != StatusProcessing {
		t.Errorf("existing status = %s, want %s", res.ExistingStatus, StatusProcessing)
	}

	if len(db.calls) != 2 {
		t.Fatalf("issued %d statements, want 2", len(db.calls))
	}
	if !strings.Contains(db.calls[1], "WHERE bucket = $1 AND key = $2") {
		t.Errorf("second statement is not the fresh lookup: %s", db.calls[1])
	}
}

func TestTryClaimWinsWithoutLookup(t *testing.T) {
	db := &fakeQuerier{rows: []fakeRow{
		{vals: []any{int64(7), nil}},
	}}

	res, err := testPostgres(db).TryClaim(context.Background(), FileClaim{
		Bucket: "test-bucket",
		Key:    "incoming/fresh.json",
	})
	if err != nil {
		t.Fatalf("TryClaim failed: %v", err)
	}
	if !res.Claimed || res.ID != 7 {
		t.Errorf("result = %+v, want claimed with ID 7", res)
	}
	if len(db.calls) != 1 {
		t.Errorf("issued %d statements, want 1", len(db.calls))
	}
}

func TestTryClaimLookupFailurePropagates(t *testing.T) {
	lookupErr := fmt.Errorf("connection reset")
	db := &fakeQuerier{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{err: lookupErr},
	}}

	_, err := testPostgres(db).TryClaim(context.Background(), FileClaim{
		Bucket: "test-bucket",
		Key:    "incoming/contested.json",
	})
	if !errors.Is(err, lookupErr) {
		t.Errorf("got %v, want wrapped lookup error", err)
	}
}
