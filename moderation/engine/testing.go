package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/cachestore"
	"github.com/bluesky-social/flagd/moderation/countstore"
	"github.com/bluesky-social/flagd/moderation/flagstore"
	"github.com/bluesky-social/flagd/moderation/rules"
	"github.com/bluesky-social/flagd/moderation/setstore"
	"github.com/bluesky-social/flagd/moderation/stats"
)

// In-memory engine seeded with a user ("5678", with posts "1234" and "1235") and default word sets. For tests.
func EngineTestFixture() *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := flagstore.NewMemFlagStore(flagstore.Config{})
	agg := stats.NewAggregator(logger, countstore.NewMemCountStore())
	sets := setstore.NewMemSetStore()
	for name, vals := range rules.DefaultSets() {
		sets.AddSet(name, vals)
	}
	sets.AddSet("hate-words", []string{"hatefulword"})

	eng := NewEngine(logger, store, agg, sets, Config{StoreTimeout: 2 * time.Second})
	eng.Cache = cachestore.NewMemCacheStore(100, time.Hour)

	ctx := context.Background()
	user := models.User{
		ID:       "5678",
		Username: "alice",
		JoinedAt: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.PutUser(ctx, &user); err != nil {
		panic(err)
	}
	for _, p := range []models.Post{
		{ID: "1234", AuthorID: "5678", Content: "hello world"},
		{ID: "1235", AuthorID: "5678", Content: "big casino giveaway"},
	} {
		if err := store.PutPost(ctx, &p); err != nil {
			panic(err)
		}
	}
	return eng
}
