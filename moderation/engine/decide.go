package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/rules"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type DecideOptions struct {
	// explicit reason; when empty the content is classified by the rule set
	Reason  string
	ActorID string
}

// Applies a moderation action ("flag" or "remove") to a post or user, recording a flag and moving the target along Clean -> Flagged -> Removed.
//
// Either the flag record and state transition are both committed and counted in stats, or nothing changes.
func (eng *Engine) Decide(ctx context.Context, tt models.TargetType, id string, rawAction string, opts DecideOptions) (*models.ModerationResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("target", models.TargetKey(tt, id)),
		attribute.String("action", rawAction),
	)

	action, err := models.ParseAction(rawAction)
	if err != nil {
		decisionErrorCount.WithLabelValues("decide", "invalid").Inc()
		return nil, err
	}
	if err := models.ValidateID(id); err != nil {
		decisionErrorCount.WithLabelValues("decide", "invalid").Inc()
		return nil, err
	}
	var reason models.Reason
	if opts.Reason != "" {
		reason, err = models.ParseReason(opts.Reason)
		if err != nil {
			decisionErrorCount.WithLabelValues("decide", "invalid").Inc()
			return nil, err
		}
	}

	rec, state, err := eng.apply(ctx, tt, id, action, reason, opts.ActorID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		decisionErrorCount.WithLabelValues("decide", errorKind(err)).Inc()
		return nil, err
	}
	decisionDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())

	res := &models.ModerationResult{
		TargetType:  tt,
		TargetID:    id,
		Status:      "Moderated",
		ActionTaken: action.Taken(),
		FlagState:   state,
		Reason:      rec.Reason,
		RecordID:    rec.ID,
		ModeratedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	eng.afterCommit(rec, state)
	return res, nil
}

// Records a flag against a user. An empty reason means Spam.
func (eng *Engine) FlagUser(ctx context.Context, userID string, rawReason string, actorID string) (*models.FlagRecord, error) {
	ctx, span := tracer.Start(ctx, "FlagUser")
	defer span.End()
	span.SetAttributes(attribute.String("user", userID))

	if err := models.ValidateID(userID); err != nil {
		decisionErrorCount.WithLabelValues("flag_user", "invalid").Inc()
		return nil, err
	}
	reason := models.ReasonSpam
	if rawReason != "" {
		var err error
		reason, err = models.ParseReason(rawReason)
		if err != nil {
			decisionErrorCount.WithLabelValues("flag_user", "invalid").Inc()
			return nil, err
		}
	}

	rec, state, err := eng.apply(ctx, models.TargetUser, userID, models.ActionFlag, reason, actorID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		decisionErrorCount.WithLabelValues("flag_user", errorKind(err)).Inc()
		return nil, err
	}
	eng.afterCommit(rec, state)
	return rec, nil
}

// Serialized per target: classification, store commit, and the stats update all happen under the target's lock. An empty reason is resolved by classification.
func (eng *Engine) apply(ctx context.Context, tt models.TargetType, id string, action models.Action, reason models.Reason, actorID string) (*models.FlagRecord, models.FlagState, error) {
	ctx, cancel := eng.withTimeout(ctx)
	defer cancel()

	key := models.TargetKey(tt, id)
	release, err := eng.locks.Acquire(ctx, key)
	if err != nil {
		return nil, "", timeoutErr(fmt.Errorf("waiting for lock on %s: %w", key, err))
	}
	defer release()

	if reason == "" {
		reason, err = eng.classify(ctx, tt, id)
		if err != nil {
			return nil, "", timeoutErr(err)
		}
	}

	rec, err := eng.Store.ApplyAction(ctx, tt, id, action, reason, actorID)
	if err != nil {
		return nil, "", timeoutErr(err)
	}
	eng.Stats.OnFlagRecorded(ctx, rec)
	eng.purgeTargetCaches(ctx, tt, id)

	// the store rejects removed targets, so the new state depends only on the action
	state := models.FlagStateClean.Next(action)
	eng.Logger.Info("flag recorded", "target", key, "action", action, "reason", reason, "actor", actorID, "record", rec.ID)
	return rec, state, nil
}

func (eng *Engine) classify(ctx context.Context, tt models.TargetType, id string) (models.Reason, error) {
	subj := rules.Subject{TargetType: tt, ID: id}
	switch tt {
	case models.TargetPost:
		p, err := eng.Store.GetPost(ctx, id)
		if err != nil {
			return "", err
		}
		if p.FlagState == models.FlagStateRemoved {
			return "", fmt.Errorf("%w: %s", models.ErrRemoved, models.TargetKey(tt, id))
		}
		subj.Text = p.Content
	case models.TargetUser:
		u, err := eng.Store.GetUser(ctx, id)
		if err != nil {
			return "", err
		}
		if u.FlagState == models.FlagStateRemoved {
			return "", fmt.Errorf("%w: %s", models.ErrRemoved, models.TargetKey(tt, id))
		}
		subj.Text = u.DisplayName + " " + u.Bio
		subj.Ident = u.Username
	default:
		return "", fmt.Errorf("unhandled target type: %s", tt)
	}

	c, err := eng.Rules.Classify(ctx, eng.Logger, eng.Sets, subj)
	if err != nil {
		return "", fmt.Errorf("classifying %s: %w", models.TargetKey(tt, id), err)
	}
	if c.Matched {
		classifiedCount.WithLabelValues(string(tt), string(c.Reason)).Inc()
		eng.Logger.Debug("content classified", "target", models.TargetKey(tt, id), "reason", c.Reason, "notes", c.Notes)
	}
	return c.Reason, nil
}
