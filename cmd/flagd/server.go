package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluesky-social/flagd/moderation/engine"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/time/rate"
)

// collectors can only be registered once per process
var promMiddleware = sync.OnceValue(func() echo.MiddlewareFunc {
	return echoprometheus.NewMiddleware("flagd")
})

type Server struct {
	eng    *engine.Engine
	echo   *echo.Echo
	httpd  *http.Server
	logger *slog.Logger
	config Config
}

type Config struct {
	Logger *slog.Logger
	Bind   string
	// basic auth password (username "admin"); admin routes are unauthenticated when empty
	AdminPassword     string
	StatsRequireAdmin bool
	// requests per second, per client IP, on moderation routes. zero disables
	RateLimit float64
}

func NewServer(eng *engine.Engine, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		eng:    eng,
		echo:   e,
		logger: logger,
		config: config,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(otelecho.Middleware("flagd"))
	e.Use(promMiddleware())
	e.HTTPErrorHandler = srv.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	if config.AdminPassword == "" {
		logger.Warn("no admin password configured; admin routes are unauthenticated")
	}
	admin := srv.adminAuthMiddleware()

	var writeLimit []echo.MiddlewareFunc
	if config.RateLimit > 0 {
		writeLimit = append(writeLimit, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(config.RateLimit),
				Burst:     max(1, int(config.RateLimit*2)),
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}
	var statsAuth []echo.MiddlewareFunc
	if config.StatsRequireAdmin {
		statsAuth = append(statsAuth, admin)
	}

	e.GET("/_health", srv.HandleHealthCheck)
	e.GET("/post/:id", srv.HandleGetPost)
	e.GET("/post/:id/flags", srv.HandleListPostFlags)
	e.POST("/post/:id/moderate", srv.HandleModeratePost, writeLimit...)
	e.GET("/user/:id/profile", srv.HandleGetProfile)
	e.GET("/user/:id/flags", srv.HandleListUserFlags)
	e.POST("/user/:id/flag", srv.HandleFlagUser, writeLimit...)
	e.GET("/content/flags/stats", srv.HandleFlagStats, statsAuth...)

	g := e.Group("/admin", admin)
	g.PUT("/post/:id", srv.HandlePutPost)
	g.PUT("/user/:id", srv.HandlePutUser)

	return srv
}

// HTTP Basic auth with username "admin" and a static password. A no-op when no password is configured.
func (srv *Server) adminAuthMiddleware() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Skipper: func(c echo.Context) bool {
			return srv.config.AdminPassword == ""
		},
		Validator: func(username, password string, c echo.Context) (bool, error) {
			// "Be careful to use constant time comparison to prevent timing attacks"
			if subtle.ConstantTimeCompare([]byte(username), []byte("admin")) == 1 &&
				subtle.ConstantTimeCompare([]byte(password), []byte(srv.config.AdminPassword)) == 1 {
				return true, nil
			}
			srv.logger.Warn("admin auth failed", "username", username, "path", c.Request().URL.Path)
			return false, nil
		},
		Realm: "flagd",
	})
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

func (srv *Server) RunAPI() error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				srv.logger.Error("HTTP server shutting down unexpectedly", "err", err)
			}
		}
	}()

	// Wait for a signal to exit.
	srv.logger.Info("registering OS exit signal handler")
	quit := make(chan struct{})
	exitSignals := make(chan os.Signal, 1)
	signal.Notify(exitSignals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-exitSignals
		srv.logger.Info("received OS exit signal", "signal", sig)

		if err := srv.Shutdown(); err != nil {
			srv.logger.Error("shutdown error", "err", err)
		}

		// Trigger the return that causes an exit.
		close(quit)
	}()
	<-quit
	srv.logger.Info("graceful shutdown complete")
	return nil
}

// Stops accepting requests, then waits for in-flight engine side effects.
func (srv *Server) Shutdown() error {
	srv.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.httpd.Shutdown(ctx); err != nil {
		return err
	}
	return srv.eng.Shutdown(ctx)
}
