package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/bluesky-social/flagd/moderation/cachestore"
	"github.com/bluesky-social/flagd/moderation/countstore"
	"github.com/bluesky-social/flagd/moderation/engine"
	"github.com/bluesky-social/flagd/moderation/events"
	"github.com/bluesky-social/flagd/moderation/flagstore"
	"github.com/bluesky-social/flagd/moderation/rules"
	"github.com/bluesky-social/flagd/moderation/setstore"
	"github.com/bluesky-social/flagd/moderation/stats"
	"github.com/bluesky-social/flagd/util/cliutil"

	cli "github.com/urfave/cli/v2"
)

func setupStore(cctx *cli.Context, logger *slog.Logger) (flagstore.FlagStore, error) {
	config := flagstore.Config{
		AllowDuplicates: cctx.Bool("allow-duplicate-flags"),
	}
	dburl := cctx.String("database-url")
	if dburl == "memory" {
		logger.Warn("using non-persistent in-memory flag store")
		return flagstore.NewMemFlagStore(config), nil
	}
	db, err := cliutil.SetupDatabase(dburl, cliutil.DatabaseOptions{
		MaxConnections: cctx.Int("max-db-connections"),
		Tracing:        cctx.Bool("enable-db-tracing"),
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return flagstore.NewGormFlagStore(db, config)
}

// Builds the engine and all of its stores from CLI flags.
func setupEngine(cctx *cli.Context, logger *slog.Logger) (*engine.Engine, error) {
	store, err := setupStore(cctx, logger)
	if err != nil {
		return nil, err
	}

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		rcounters, err := countstore.NewRedisCountStore(redisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting redis counters: %w", err)
		}
		counters = rcounters
		rcache, err := cachestore.NewRedisCacheStore(redisURL, cctx.Duration("cache-ttl"))
		if err != nil {
			return nil, fmt.Errorf("connecting redis cache: %w", err)
		}
		cache = rcache
	} else {
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(50_000, cctx.Duration("cache-ttl"))
	}

	sets := setstore.NewMemSetStore()
	for name, vals := range rules.DefaultSets() {
		sets.AddSet(name, vals)
	}
	if p := cctx.String("sets-file"); p != "" {
		if err := sets.LoadFromFile(p); err != nil {
			return nil, fmt.Errorf("loading sets file: %w", err)
		}
	}

	eng := engine.NewEngine(logger, store, stats.NewAggregator(logger, counters), sets, engine.Config{
		StoreTimeout: cctx.Duration("store-timeout"),
	})
	eng.Cache = cache

	if brokers := cctx.StringSlice("kafka-brokers"); len(brokers) > 0 {
		pub, err := events.NewKafkaPublisher(brokers, map[string]string{
			events.EventFlagRecorded: cctx.String("kafka-topic"),
		})
		if err != nil {
			return nil, err
		}
		eng.Publisher = pub
	} else {
		eng.Publisher = &events.LogPublisher{Logger: logger}
	}

	if url := cctx.String("slack-webhook-url"); url != "" {
		eng.Notifier = engine.NewSlackNotifier(logger, url)
	}
	return eng, nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
