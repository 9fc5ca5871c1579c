// Package app boots the service: configuration, logging, database,
// seeding, feed generation, and the HTTP server lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nope-sec/nope/internal/audit"
	"github.com/nope-sec/nope/internal/config"
	"github.com/nope-sec/nope/internal/db"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/exclusion"
	"github.com/nope-sec/nope/internal/http/api"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/ratelimit"
	"github.com/nope-sec/nope/internal/seed"
)

// Login attempts get a much tighter budget than general API traffic.
const (
	loginLimitRequests = 5
	loginLimitWindow   = time.Minute
)

// SetupLogging configures logrus output, optionally with rotation.
func SetupLogging(cfg *config.Config) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the full service and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config) error {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	feeds := edl.NewGenerator(conn, cfg.FeedOutputDir)

	if errSeed := seed.Run(ctx, conn, cfg, feeds); errSeed != nil {
		return fmt.Errorf("seed database: %w", errSeed)
	}

	// Every feed file is rebuilt at startup; the database is the source
	// of truth and startup is the cheapest recovery point.
	if _, errGen := feeds.GenerateAll(ctx); errGen != nil {
		log.WithError(errGen).Warn("startup feed generation incomplete")
	}

	edl.NewSweeper(feeds).Start(ctx)
	audit.NewRetentionCleaner(conn).Start(ctx)

	iocService := ioc.NewService(conn, feeds)
	exclusionService := exclusion.NewService(conn, feeds)

	loginLimiter, apiLimiter := buildLimiters(cfg)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	api.RegisterRoutes(engine, api.Deps{
		DB:           conn,
		Cfg:          cfg,
		Feeds:        feeds,
		IOCs:         iocService,
		Exclusions:   exclusionService,
		LoginLimiter: loginLimiter,
		APILimiter:   apiLimiter,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("starting server")
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
	}()

	select {
	case <-ctx.Done():
	case errServe := <-errCh:
		return errServe
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildLimiters selects the rate limiter backend: Redis when a URL is
// configured, in-process otherwise.
func buildLimiters(cfg *config.Config) (login, api ratelimit.Limiter) {
	if cfg.RedisURL != "" {
		opts, errParse := redis.ParseURL(cfg.RedisURL)
		if errParse == nil {
			client := redis.NewClient(opts)
			log.Info("using redis rate limiter backend")
			return ratelimit.NewRedisWindow(client, loginLimitRequests, loginLimitWindow, "nope:rl:login:"),
				ratelimit.NewRedisWindow(client, cfg.RateLimitRequests, cfg.RateLimitWindow, "nope:rl:api:")
		}
		log.WithError(errParse).Warn("invalid redis url, falling back to in-memory rate limiter")
	}
	return ratelimit.NewSlidingWindow(loginLimitRequests, loginLimitWindow),
		ratelimit.NewSlidingWindow(cfg.RateLimitRequests, cfg.RateLimitWindow)
}
