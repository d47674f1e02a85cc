package engine

import (
	"context"
	"fmt"
	"time"
)

type ReconcileResult struct {
	Records int
	// records newly applied to stats by this run
	Missing int
}

// Replays every record in the store through the stats aggregator. Records already applied are skipped, so any non-zero Missing count means a stats update was lost (eg, a crash between commit and aggregation).
func (eng *Engine) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "Reconcile")
	defer span.End()

	start := time.Now()
	recs, err := eng.Store.ListFlags(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("listing flag records: %w", timeoutErr(err))
	}
	// the first load after startup is expected to apply everything
	initial := eng.Stats.Snapshot().TotalFlags == 0
	missing := eng.Stats.Rebuild(recs)
	if missing > 0 && !initial {
		reconcileMissingCount.Add(float64(missing))
		eng.Logger.Warn("stats were missing flag records", "missing", missing, "records", len(recs))
	}
	eng.Logger.Info("stats reconcile complete", "records", len(recs), "missing", missing, "duration", time.Since(start))
	return &ReconcileResult{Records: len(recs), Missing: missing}, nil
}
