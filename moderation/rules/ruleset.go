package rules

import (
	"context"
	"log/slog"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/setstore"
)

// The content being classified: a post's text, or a user's profile.
type Subject struct {
	TargetType models.TargetType
	ID         string
	// post content, or profile bio
	Text string
	// username, for users
	Ident string
}

// Passed to each rule; collects the reasons rules flag.
type RuleContext struct {
	Ctx     context.Context
	Logger  *slog.Logger
	Sets    setstore.SetStore
	Subject Subject

	reasons []models.Reason
	notes   []string
}

func (c *RuleContext) InSet(name, val string) bool {
	ok, err := c.Sets.InSet(c.Ctx, name, val)
	if err != nil {
		c.Logger.Warn("set lookup failed", "set", name, "err", err)
		return false
	}
	return ok
}

// Records that the subject matched a rule for the given reason. The note ends up in logs.
func (c *RuleContext) Flag(reason models.Reason, note string) {
	c.reasons = append(c.reasons, reason)
	c.notes = append(c.notes, note)
}

type RuleFunc func(c *RuleContext) error

// Ordered list of classification rules. Earlier rules take precedence when more than one matches.
type RuleSet struct {
	Rules []RuleFunc
}

type Classification struct {
	Reason  models.Reason
	Matched bool
	Notes   []string
}

// Runs every rule against the subject. When no rule matches, the result has Reason Other and Matched false.
func (r *RuleSet) Classify(ctx context.Context, logger *slog.Logger, sets setstore.SetStore, subj Subject) (Classification, error) {
	c := RuleContext{
		Ctx:     ctx,
		Logger:  logger.With("target", models.TargetKey(subj.TargetType, subj.ID)),
		Sets:    sets,
		Subject: subj,
	}
	for _, f := range r.Rules {
		if err := f(&c); err != nil {
			return Classification{}, err
		}
	}
	if len(c.reasons) == 0 {
		return Classification{Reason: models.ReasonOther}, nil
	}
	return Classification{
		Reason:  c.reasons[0],
		Matched: true,
		Notes:   c.notes,
	}, nil
}
