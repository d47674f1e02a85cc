package flagstore

import (
	"context"
	"time"

	"github.com/bluesky-social/flagd/models"

	"github.com/google/uuid"
)

// Durable mapping from posts and users to their flag records and visibility state.
//
// Implementations do not serialize callers against each other beyond what is needed for their own consistency; the engine holds a per-target lock around mutations.
type FlagStore interface {
	// Appends a new flag record. A Clean target becomes Flagged.
	RecordFlag(ctx context.Context, tt models.TargetType, id string, reason models.Reason, actorID string) (*models.FlagRecord, error)
	// All records for a target, oldest first.
	GetFlagsFor(ctx context.Context, tt models.TargetType, id string) ([]models.FlagRecord, error)
	// Marks the target Flagged or Removed. Removed is terminal.
	RemoveEntity(ctx context.Context, tt models.TargetType, id string, action models.Action) error
	// Records a flag and applies the action's state transition as a single unit: either both happen or neither.
	ApplyAction(ctx context.Context, tt models.TargetType, id string, action models.Action, reason models.Reason, actorID string) (*models.FlagRecord, error)
	// Every record, oldest first. A zero 'since' returns everything.
	ListFlags(ctx context.Context, since time.Time) ([]models.FlagRecord, error)

	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	// Creates or updates content fields. Never changes FlagState of an existing entity.
	PutPost(ctx context.Context, post *models.Post) error
	PutUser(ctx context.Context, user *models.User) error

	Ping(ctx context.Context) error
}

type Config struct {
	// Permit more than one record with the same (target, reason)
	AllowDuplicates bool
}

func newRecordID() string {
	return uuid.NewString()
}
