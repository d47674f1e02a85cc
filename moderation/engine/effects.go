package engine

import (
	"context"
	"errors"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/events"
	"github.com/bluesky-social/flagd/pkg/metrics"
)

// Side effects of a committed flag. These run in the background with their own deadline; failures are logged and counted, never returned.
func (eng *Engine) afterCommit(rec *models.FlagRecord, state models.FlagState) {
	flagsRecordedCount.WithLabelValues(string(rec.TargetType), string(rec.Action), string(rec.Reason)).Inc()

	if eng.Publisher == nil && (eng.Notifier == nil || rec.Action != models.ActionRemove) {
		return
	}

	eng.wg.Add(1)
	go func() {
		defer eng.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), eng.Config.SideEffectTimeout)
		defer cancel()

		logger := eng.Logger.With("target", rec.TargetKey(), "record", rec.ID)
		if eng.Publisher != nil {
			if err := events.PublishFlag(ctx, eng.Publisher, events.NewFlagEvent(rec, state)); err != nil {
				logger.Error("failed to publish flag event", "err", err)
				sideEffectCount.WithLabelValues("event", metrics.StatusError).Inc()
			} else {
				sideEffectCount.WithLabelValues("event", metrics.StatusOK).Inc()
			}
		}
		if eng.Notifier != nil && rec.Action == models.ActionRemove {
			if err := eng.Notifier.SendRemoval(ctx, rec); err != nil {
				logger.Error("failed to send removal notification", "err", err)
				sideEffectCount.WithLabelValues("notify", metrics.StatusError).Inc()
			} else {
				sideEffectCount.WithLabelValues("notify", metrics.StatusOK).Inc()
			}
		}
	}()
}

// Coarse error category, used as a metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrRemoved):
		return "removed"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	case errors.Is(err, models.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrInvalidAction), errors.Is(err, models.ErrInvalidID), errors.Is(err, models.ErrInvalidReason):
		return "invalid"
	default:
		return "internal"
	}
}
