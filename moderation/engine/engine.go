package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/cachestore"
	"github.com/bluesky-social/flagd/moderation/events"
	"github.com/bluesky-social/flagd/moderation/flagstore"
	"github.com/bluesky-social/flagd/moderation/rules"
	"github.com/bluesky-social/flagd/moderation/setstore"
	"github.com/bluesky-social/flagd/moderation/stats"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("engine")

const DefaultStoreTimeout = 5 * time.Second

type Config struct {
	// upper bound on any single engine operation, including waiting for the per-target lock
	StoreTimeout time.Duration
	// how long post-commit side effects (events, notifications) may take
	SideEffectTimeout time.Duration
}

// Runtime for moderation decisions: classifies content, records flags, and keeps statistics current.
//
// Store, Stats and Sets must be set. Cache, Publisher and Notifier are optional.
type Engine struct {
	Logger    *slog.Logger
	Store     flagstore.FlagStore
	Stats     *stats.Aggregator
	Sets      setstore.SetStore
	Rules     rules.RuleSet
	Cache     cachestore.CacheStore
	Publisher events.Publisher
	Notifier  Notifier
	Config    Config

	locks *keyedLocks
	// tracks in-flight side-effect goroutines
	wg sync.WaitGroup
}

func NewEngine(logger *slog.Logger, store flagstore.FlagStore, agg *stats.Aggregator, sets setstore.SetStore, config Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = DefaultStoreTimeout
	}
	if config.SideEffectTimeout <= 0 {
		config.SideEffectTimeout = 10 * time.Second
	}
	return &Engine{
		Logger: logger.With("component", "engine"),
		Store:  store,
		Stats:  agg,
		Sets:   sets,
		Rules:  rules.DefaultRules(),
		Config: config,
		locks:  newKeyedLocks(),
	}
}

// Waits for in-flight side effects, then closes the event publisher.
func (eng *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		eng.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		eng.Logger.Warn("timed out waiting for engine side effects")
	}
	if eng.Publisher != nil {
		return eng.Publisher.Close()
	}
	return nil
}

func (eng *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, eng.Config.StoreTimeout)
}

// Converts a context deadline in to ErrTimeout, keeping the original error in the chain.
func timeoutErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
		return fmt.Errorf("%w: %w", models.ErrTimeout, err)
	}
	return err
}
