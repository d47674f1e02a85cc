package engine

import (
	"context"

	"github.com/bluesky-social/flagd/models"
)

// Interface for a type that can deliver alerts about removals to human moderators.
type Notifier interface {
	SendRemoval(ctx context.Context, rec *models.FlagRecord) error
}
