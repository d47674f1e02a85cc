package stats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/countstore"
)

// names of the periodized counters mirrored in to the CountStore
const (
	counterName  = "flags"
	distinctName = "flagged"
)

// Incrementally maintained flag statistics, so snapshots never need a scan of the store.
//
// Each record is applied at most once (keyed by record ID), so replaying records is safe.
type Aggregator struct {
	// optional; when set, every newly applied record also increments periodized counters
	Counters countstore.CountStore
	Logger   *slog.Logger

	lk             sync.Mutex
	applied        map[string]bool
	flaggedTargets map[string]bool
	flaggedPosts   int64
	flaggedUsers   int64
	totalFlags     int64
	counts         models.ReasonCounts
}

func NewAggregator(logger *slog.Logger, counters countstore.CountStore) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		Counters:       counters,
		Logger:         logger.With("component", "stats"),
		applied:        make(map[string]bool),
		flaggedTargets: make(map[string]bool),
		counts:         make(models.ReasonCounts),
	}
}

// caller must hold the lock
func (a *Aggregator) apply(rec *models.FlagRecord) bool {
	if a.applied[rec.ID] {
		return false
	}
	a.applied[rec.ID] = true
	a.totalFlags++
	a.counts[rec.Reason]++

	key := rec.TargetKey()
	if !a.flaggedTargets[key] {
		a.flaggedTargets[key] = true
		switch rec.TargetType {
		case models.TargetPost:
			a.flaggedPosts++
		case models.TargetUser:
			a.flaggedUsers++
		}
	}
	return true
}

// Applies a newly committed record. Returns false if the record was already applied.
func (a *Aggregator) OnFlagRecorded(ctx context.Context, rec *models.FlagRecord) bool {
	a.lk.Lock()
	ok := a.apply(rec)
	a.lk.Unlock()

	if ok && a.Counters != nil {
		// the aggregate totals are already updated; only the windowed view lags on failure
		if err := a.Counters.Increment(ctx, counterName, string(rec.Reason)); err != nil {
			a.Logger.Warn("failed to increment flag counter", "reason", rec.Reason, "err", err)
		}
		if err := a.Counters.IncrementDistinct(ctx, distinctName, string(rec.TargetType), rec.TargetID); err != nil {
			a.Logger.Warn("failed to increment distinct target counter", "target", rec.TargetKey(), "err", err)
		}
	}
	return ok
}

// Replays records (eg, everything in the store at startup). Returns the number which had not been applied before.
//
// Periodized counters are not touched: replayed records would land in the current time bucket.
func (a *Aggregator) Rebuild(records []models.FlagRecord) int {
	a.lk.Lock()
	defer a.lk.Unlock()
	n := 0
	for i := range records {
		if a.apply(&records[i]) {
			n++
		}
	}
	return n
}

func (a *Aggregator) Snapshot() models.StatsSnapshot {
	a.lk.Lock()
	defer a.lk.Unlock()

	counts := make(models.ReasonCounts, len(models.AllReasons))
	for _, r := range models.AllReasons {
		counts[r] = a.counts[r]
	}
	snap := models.StatsSnapshot{
		TotalFlaggedPosts: a.flaggedPosts,
		TotalFlaggedUsers: a.flaggedUsers,
		TotalFlags:        a.totalFlags,
		CountsByReason:    counts,
	}
	if r, ok := a.mostCommon(); ok {
		snap.MostCommonFlagReason = r
	}
	return snap
}

// Reason with the highest count. Ties go to the reason declared first. Returns false if nothing has been recorded.
func (a *Aggregator) MostCommonReason() (models.Reason, bool) {
	a.lk.Lock()
	defer a.lk.Unlock()
	return a.mostCommon()
}

// caller must hold the lock
func (a *Aggregator) mostCommon() (models.Reason, bool) {
	var best models.Reason
	var bestCount int64
	for _, r := range models.AllReasons {
		if c := a.counts[r]; c > bestCount {
			best = r
			bestCount = c
		}
	}
	return best, bestCount > 0
}

// Flag counts by reason, and distinct flagged targets, for the current hour and day buckets. Returns nil when no CountStore is configured.
func (a *Aggregator) Recent(ctx context.Context) (*models.RecentStats, error) {
	if a.Counters == nil {
		return nil, nil
	}
	out := models.RecentStats{
		ByReason:       make(map[string]models.ReasonCounts, 2),
		FlaggedTargets: make(map[string]map[models.TargetType]int64, 2),
	}
	for _, period := range []string{countstore.PeriodHour, countstore.PeriodDay} {
		rc := make(models.ReasonCounts, len(models.AllReasons))
		for _, r := range models.AllReasons {
			c, err := a.Counters.GetCount(ctx, counterName, string(r), period)
			if err != nil {
				return nil, err
			}
			rc[r] = int64(c)
		}
		out.ByReason[period] = rc

		targets := make(map[models.TargetType]int64, 2)
		for _, tt := range []models.TargetType{models.TargetPost, models.TargetUser} {
			c, err := a.Counters.GetCountDistinct(ctx, distinctName, string(tt), period)
			if err != nil {
				return nil, err
			}
			targets[tt] = int64(c)
		}
		out.FlaggedTargets[period] = targets
	}
	return &out, nil
}
