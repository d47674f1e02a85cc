package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/bluesky-social/flagd/pkg/metrics"
	"github.com/bluesky-social/flagd/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "flagd",
		Usage:   "content moderation decision and flagging service",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string: sqlite://<path> or postgresql://..., or 'memory' for a non-persistent store",
			Value:   "sqlite://data/flagd/flagd.sqlite",
			EnvVars: []string{"FLAGD_DATABASE_URL", "DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Usage:   "maximum number of open database connections (postgresql only)",
			Value:   40,
			EnvVars: []string{"FLAGD_MAX_DB_CONNECTIONS"},
		},
		&cli.BoolFlag{
			Name:    "enable-db-tracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"FLAGD_ENABLE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL for counters and caching; in-process memory is used when empty: redis://<user>:<pass>@<hostname>:6379/<db>",
			EnvVars: []string{"FLAGD_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"FLAGD_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format: json or text",
			Value:   "json",
			EnvVars: []string{"FLAGD_LOG_FORMAT"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		seedCmd,
		reconcileCmd,
		clientCmd,
	}

	return app.Run(args)
}

var engineFlags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "store-timeout",
		Usage:   "upper bound on any single moderation or store operation",
		Value:   5 * time.Second,
		EnvVars: []string{"FLAGD_STORE_TIMEOUT"},
	},
	&cli.BoolFlag{
		Name:    "allow-duplicate-flags",
		Usage:   "accept more than one flag with the same reason on the same target",
		EnvVars: []string{"FLAGD_ALLOW_DUPLICATE_FLAGS"},
	},
	&cli.StringFlag{
		Name:    "sets-file",
		Usage:   "JSON or YAML file of named word sets used by classification rules",
		EnvVars: []string{"FLAGD_SETS_FILE"},
	},
	&cli.DurationFlag{
		Name:    "cache-ttl",
		Usage:   "how long fetched posts and profiles stay cached",
		Value:   5 * time.Minute,
		EnvVars: []string{"FLAGD_CACHE_TTL"},
	},
	&cli.StringSliceFlag{
		Name:    "kafka-brokers",
		Usage:   "kafka brokers to publish flag events to (host:port); events are only logged when empty",
		EnvVars: []string{"FLAGD_KAFKA_BROKERS"},
	},
	&cli.StringFlag{
		Name:    "kafka-topic",
		Usage:   "kafka topic for flag events",
		Value:   "moderation.flag.recorded",
		EnvVars: []string{"FLAGD_KAFKA_TOPIC"},
	},
	&cli.StringFlag{
		Name:    "slack-webhook-url",
		Usage:   "full URL of slack webhook for removal notifications",
		EnvVars: []string{"SLACK_WEBHOOK_URL"},
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the flagd HTTP API daemon",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Specify the local IP/port to bind to",
			Value:   ":2220",
			EnvVars: []string{"FLAGD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3989",
			EnvVars: []string{"FLAGD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-password",
			Usage:   "HTTP basic auth password (username 'admin') for ingestion routes; they are open when unset",
			EnvVars: []string{"FLAGD_ADMIN_PASSWORD"},
		},
		&cli.BoolFlag{
			Name:    "stats-require-admin",
			Usage:   "require admin auth for the flag statistics endpoint",
			EnvVars: []string{"FLAGD_STATS_REQUIRE_ADMIN"},
		},
		&cli.Float64Flag{
			Name:    "rate-limit",
			Usage:   "per-client rate limit on moderation requests, per second (0 disables)",
			Value:   20,
			EnvVars: []string{"FLAGD_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "reconcile-schedule",
			Usage:   "cron schedule for re-checking statistics against the store (empty disables)",
			Value:   "@every 1h",
			EnvVars: []string{"FLAGD_RECONCILE_SCHEDULE"},
		},
	}, engineFlags...),
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.ConfigLogger(cctx, os.Stdout)
		if err != nil {
			return err
		}
		ctx := cctx.Context

		shutdownOTEL, err := setupOTEL(ctx, "flagd")
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTEL(ctx); err != nil {
				logger.Error("failed to shutdown trace exporter", "err", err)
			}
		}()

		eng, err := setupEngine(cctx, logger)
		if err != nil {
			return fmt.Errorf("failed to construct engine: %w", err)
		}
		// load statistics from the store before serving
		if _, err := eng.Reconcile(ctx); err != nil {
			return err
		}

		if sched := cctx.String("reconcile-schedule"); sched != "" {
			c := cron.New()
			if _, err := c.AddFunc(sched, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if _, err := eng.Reconcile(ctx); err != nil {
					logger.Error("scheduled stats reconcile failed", "err", err)
				}
			}); err != nil {
				return fmt.Errorf("invalid reconcile schedule %q: %w", sched, err)
			}
			c.Start()
			defer c.Stop()
		}

		srv := NewServer(eng, Config{
			Logger:            logger,
			Bind:              cctx.String("bind"),
			AdminPassword:     cctx.String("admin-password"),
			StatsRequireAdmin: cctx.Bool("stats-require-admin"),
			RateLimit:         cctx.Float64("rate-limit"),
		})

		// prometheus HTTP endpoint: /metrics
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			runtime.SetBlockProfileRate(10)
			runtime.SetMutexProfileFraction(10)
			if err := metrics.RunServer(metricsCtx, logger, cctx.String("metrics-listen")); err != nil {
				logger.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}

var reconcileCmd = &cli.Command{
	Name:  "reconcile",
	Usage: "rebuild flag statistics from the store and print them",
	Flags: engineFlags,
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.ConfigLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}
		eng, err := setupEngine(cctx, logger)
		if err != nil {
			return err
		}
		res, err := eng.Reconcile(cctx.Context)
		if err != nil {
			return err
		}
		snap, err := eng.Snapshot(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Printf("records: %d\n", res.Records)
		return printJSON(snap)
	},
}
