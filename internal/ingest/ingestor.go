// Package ingest drives the claim-detect-parse-commit cycle that turns
// object-store keys into stored records.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/withObsrvr/clearinghouse/internal/catalog"
	"github.com/withObsrvr/clearinghouse/internal/logging"
	"github.com/withObsrvr/clearinghouse/internal/metrics"
	"github.com/withObsrvr/clearinghouse/internal/parser"
	"github.com/withObsrvr/clearinghouse/internal/source"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ErrCycleAborted wraps infrastructure failures that abort a whole poll
// cycle. The scheduler retries on its next tick; nothing is lost because
// the ledger retains every decision already made.
var ErrCycleAborted = errors.New("ingest cycle aborted")

// Ingestor orchestrates one poll cycle: enumerate candidates, filter
// already-known keys, claim, fetch, parse, and commit each file.
//
// Files are processed strictly sequentially. The only concurrency in the
// system is across independent ingestor instances, and correctness under
// that rests entirely on the catalog's atomic conditional insert.
type Ingestor struct {
	src       source.Source
	cat       catalog.Store
	dec       *source.Decoder
	fileDelay time.Duration
	log       *slog.Logger
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Listed    int
	Skipped   int
	Claimed   int
	Completed int
	Failed    int
	Records   int64
}

// New creates an ingestor.
func New(src source.Source, cat catalog.Store, fileDelay time.Duration) (*Ingestor, error) {
	dec, err := source.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	return &Ingestor{
		src:       src,
		cat:       cat,
		dec:       dec,
		fileDelay: fileDelay,
		log:       slog.With("component", "ingestor"),
	}, nil
}

// Close releases ingestor resources.
func (in *Ingestor) Close() {
	in.dec.Close()
}

// RunCycle runs one enumeration-and-processing pass. Enumeration or
// known-key query failures abort the cycle with ErrCycleAborted; a single
// file's failure never does.
func (in *Ingestor) RunCycle(ctx context.Context) (CycleStats, error) {
	bucket := in.src.Bucket()
	cycleLog := in.log.With("cycle_id", logging.NewCycleID())
	started := time.Now()

	var stats CycleStats

	objects, err := in.src.List(ctx)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.SourceErrors.WithLabelValues(bucket).Inc()
			m.CyclesAborted.Inc()
		}
		return stats, fmt.Errorf("%w: list objects: %v", ErrCycleAborted, err)
	}
	stats.Listed = len(objects)

	known, err := in.cat.KnownKeys(ctx, bucket)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.CatalogErrors.WithLabelValues(bucket).Inc()
			m.CyclesAborted.Inc()
		}
		return stats, fmt.Errorf("%w: query known keys: %v", ErrCycleAborted, err)
	}

	for i, obj := range objects {
		// Cooperative stop: never start a new file after cancellation.
		if ctx.Err() != nil {
			cycleLog.Info("stop requested, ending cycle early",
				"processed", i, "remaining", len(objects)-i)
			break
		}

		if _, seen := known[obj.Key]; seen {
			stats.Skipped++
			continue
		}

		if err := in.processObject(ctx, cycleLog, obj, &stats); err != nil {
			if m := metrics.Get(); m != nil {
				m.CyclesAborted.Inc()
			}
			return stats, err
		}

		if in.fileDelay > 0 && i < len(objects)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(in.fileDelay):
			}
		}
	}

	elapsed := time.Since(started)
	if m := metrics.Get(); m != nil {
		m.CyclesTotal.Inc()
		m.CycleDuration.Observe(elapsed.Seconds())
		m.LastCycleUnixtime.SetToCurrentTime()
	}
	cycleLog.Info("cycle complete",
		"listed", stats.Listed,
		"skipped", stats.Skipped,
		"claimed", stats.Claimed,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"records", stats.Records,
		"duration", elapsed.String(),
	)
	return stats, nil
}

// processObject runs the state machine for one candidate file. Its store
// operations use a detached context so a shutdown request cannot strand a
// claim mid-file: an in-flight file always reaches COMPLETED or FAILED.
//
// Only a claim-time catalog failure aborts the cycle; everything after a
// successful claim is contained within this file's iteration.
func (in *Ingestor) processObject(ctx context.Context, cycleLog *slog.Logger, obj source.ObjectInfo, stats *CycleStats) error {
	bucket := in.src.Bucket()
	fctx := context.WithoutCancel(ctx)
	log := logging.FileLogger(cycleLog, bucket, obj.Key)
	started := time.Now()

	// Single read: the claim fixes byte size and hash from these bytes.
	raw, err := in.src.Read(fctx, obj.Key)
	if err != nil {
		// Not yet claimed; the file is re-discovered next cycle.
		log.Warn("fetch failed, will retry next cycle", "error", err)
		if m := metrics.Get(); m != nil {
			m.SourceErrors.WithLabelValues(bucket).Inc()
		}
		return nil
	}

	sum := sha256.Sum256(raw)
	claim := catalog.FileClaim{
		Bucket:   bucket,
		Key:      obj.Key,
		FileName: path.Base(obj.Key),
		Size:     int64(len(raw)),
		Hash:     hex.EncodeToString(sum[:]),
		Metadata: in.objectMetadata(fctx, obj),
	}

	res, err := in.cat.TryClaim(fctx, claim)
	if err != nil {
		if m := metrics.Get(); m != nil {
			m.CatalogErrors.WithLabelValues(bucket).Inc()
		}
		return fmt.Errorf("%w: claim %s: %v", ErrCycleAborted, obj.Key, err)
	}
	if !res.Claimed {
		// The dedup signal: another instance owns or owned this file.
		log.Debug("already claimed, skipping", "status", string(res.ExistingStatus))
		stats.Skipped++
		if m := metrics.Get(); m != nil {
			m.FilesSkipped.WithLabelValues(bucket).Inc()
		}
		return nil
	}

	stats.Claimed++
	log = log.With("entry_id", res.ID)
	log.Info("claimed file", "size", claim.Size, "hash", claim.Hash)
	if m := metrics.Get(); m != nil {
		m.FilesClaimed.WithLabelValues(bucket).Inc()
	}

	// Listing size drift is an audit signal only; the claim already
	// fixed size and hash from the single read above.
	if obj.Size > 0 && obj.Size != claim.Size {
		log.Warn("listing size differs from fetched size",
			"listed", obj.Size, "fetched", claim.Size)
	}

	payload, err := in.dec.Decode(obj.Key, raw)
	if err != nil {
		in.failEntry(fctx, log, res.ID, err.Error())
		stats.Failed++
		return nil
	}

	records, err := parser.Parse(payload)
	if err != nil {
		in.failEntry(fctx, log, res.ID, err.Error())
		stats.Failed++
		return nil
	}

	n, err := in.cat.InsertRecords(fctx, res.ID, records)
	if err != nil {
		// The entry stays in processing: a documented crash-consistency
		// gap resolved by operator intervention, never guessed at here.
		if errors.Is(err, catalog.ErrStaleTransition) {
			log.Error("stale claim detected inserting records", "error", err)
		} else {
			log.Error("record insert failed, entry left in processing", "error", err)
		}
		if m := metrics.Get(); m != nil {
			m.CatalogErrors.WithLabelValues(bucket).Inc()
		}
		return nil
	}

	if err := in.cat.MarkCompleted(fctx, res.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, catalog.ErrStaleTransition) {
			log.Error("stale claim detected completing entry", "error", err)
		} else {
			log.Error("completion failed, entry left in processing", "error", err)
		}
		if m := metrics.Get(); m != nil {
			m.CatalogErrors.WithLabelValues(bucket).Inc()
		}
		return nil
	}

	stats.Completed++
	stats.Records += n
	log.Info("completed file", "records", n)
	if m := metrics.Get(); m != nil {
		m.FilesCompleted.WithLabelValues(bucket).Inc()
		m.RecordsInserted.WithLabelValues(bucket).Add(float64(n))
		m.FileProcessDuration.WithLabelValues(bucket).Observe(time.Since(started).Seconds())
	}
	return nil
}

// failEntry records a terminal failure for a claimed entry.
func (in *Ingestor) failEntry(ctx context.Context, log *slog.Logger, id int64, msg string) {
	log.Info("failing file", "error", msg)
	if m := metrics.Get(); m != nil {
		m.FilesFailed.WithLabelValues(in.src.Bucket()).Inc()
	}
	if err := in.cat.MarkFailed(ctx, id, msg); err != nil {
		if errors.Is(err, catalog.ErrStaleTransition) {
			log.Error("stale claim detected failing entry", "error", err)
		} else {
			log.Error("failure record failed, entry left in processing", "error", err)
		}
		if m := metrics.Get(); m != nil {
			m.CatalogErrors.WithLabelValues(in.src.Bucket()).Inc()
		}
	}
}

// objectMetadata captures object attributes for the ledger metadata map.
// Best effort: a metadata fetch failure never blocks processing.
func (in *Ingestor) objectMetadata(ctx context.Context, obj source.ObjectInfo) map[string]string {
	attrs, err := in.src.Attributes(ctx, obj.Key)
	if err != nil {
		return nil
	}
	md := map[string]string{
		"content_type":  attrs.ContentType,
		"last_modified": attrs.ModTime.UTC().Format(time.RFC3339),
	}
	if attrs.ETag != "" {
		md["etag"] = attrs.ETag
	}
	return md
}
