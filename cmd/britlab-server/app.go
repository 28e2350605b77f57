package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/config"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/domain/referral"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/blobstore"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/cache"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/db"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/metrics"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/retry"
	"github.com/coordinadormicrobiologia-prog/Microbiologia-britLab/internal/platform/rowstore"
)

// cachePrefix namespaces every key this service writes to Redis.
const cachePrefix = "britlab:"

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	loc     *time.Location

	pool  *pgxpool.Pool
	redis *cache.RedisKV
	repo  referral.Repository
	svc   *referral.Service
	blobs blobstore.Store
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// buildApp wires the store, schedule and lifecycle service selected by cfg.
// Blob storage is only built when withBlobs is set; CLI commands do not
// need it.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withBlobs bool) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(nil),
		loc:     loc,
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	schedule, err := a.loadSchedule(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc = referral.NewService(a.repo,
		referral.WithSchedule(schedule),
		referral.WithLocation(loc),
		referral.WithLogger(logger.With().Str("component", "referral").Logger()),
	)
	a.svc.SetRecorder(a.metrics)

	if withBlobs {
		if a.blobs, err = newBlobStore(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg

	switch cfg.StoreDriver {
	case config.StoreMemory:
		a.repo = referral.NewInMemoryRepository()
		a.logger.Warn().Msg("using in-memory store; data is lost on restart")
		return nil

	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return err
		}
		a.pool = pool
		a.repo = referral.NewRepoPG(pool)
		a.logger.Info().Msg("connected to database")
		return nil
	}

	var (
		adapter rowstore.Adapter
		err     error
	)
	switch cfg.StoreDriver {
	case config.StoreSheets:
		adapter, err = rowstore.NewSheetsAdapter(rowstore.SheetsConfig{
			URL:     cfg.SheetsURL,
			APIKey:  cfg.SheetsAPIKey,
			Timeout: cfg.StoreTimeout,
		})
	case config.StoreWorkbook:
		adapter, err = rowstore.NewWorkbookAdapter(cfg.WorkbookPath, cfg.WorkbookSheet)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return err
	}

	opts := []rowstore.RepoOption{
		rowstore.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.ListMaxAttempts,
			Delay:       cfg.ListRetryDelay,
		}),
		rowstore.WithLogger(a.logger.With().Str("component", "rowstore").Logger()),
		rowstore.WithRecorder(a.metrics),
		rowstore.WithLocation(a.loc),
	}
	if kv := a.listCache(ctx); kv != nil {
		opts = append(opts, rowstore.WithCache(kv, cfg.CacheTTL))
	}
	a.repo = rowstore.NewRepository(adapter, opts...)
	a.logger.Info().Str("driver", cfg.StoreDriver).Msg("row store ready")
	return nil
}

// listCache prefers Redis and falls back to a process-local cache. An
// unreachable Redis is logged, not fatal.
func (a *app) listCache(ctx context.Context) cache.KV {
	if a.cfg.CacheTTL <= 0 {
		return nil
	}
	if a.cfg.RedisURL != "" {
		kv, err := cache.NewRedisKVFromURL(ctx, a.cfg.RedisURL, cachePrefix)
		if err == nil {
			a.redis = kv
			return kv
		}
		a.logger.Warn().Err(err).Msg("redis unavailable, caching in process")
	}
	return cache.NewMemoryKV()
}

func (a *app) loadSchedule(ctx context.Context) (referral.ScheduleTable, error) {
	schedule := referral.DefaultSchedule()
	if a.cfg.ScheduleFile != "" {
		var err error
		if schedule, err = referral.LoadScheduleFile(a.cfg.ScheduleFile); err != nil {
			return referral.ScheduleTable{}, err
		}
	}
	if a.pool != nil {
		merged, err := referral.LoadScheduleOverrides(ctx, a.pool, schedule)
		if err != nil {
			return referral.ScheduleTable{}, err
		}
		schedule = merged
	}
	return schedule, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.BlobDriver != config.BlobS3 {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		Endpoint:        cfg.S3Endpoint,
		PathStyle:       cfg.S3PathStyle,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
	})
}

// healthChecks probes the dependencies the selected drivers rely on.
func (a *app) healthChecks() map[string]db.Check {
	checks := map[string]db.Check{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	switch a.cfg.StoreDriver {
	case config.StoreSheets, config.StoreWorkbook:
		checks["store"] = func(ctx context.Context) error {
			_, err := a.repo.List(ctx)
			return err
		}
	}
	return checks
}

// signingKey returns the configured key. Development without one gets a
// random per-process key, so tokens do not survive a restart.
func (a *app) signingKey() []byte {
	if a.cfg.AuthSigningKey != "" {
		return []byte(a.cfg.AuthSigningKey)
	}
	buf := make([]byte, 32)
	if _, err := crypto_rand.Read(buf); err != nil {
		a.logger.Fatal().Err(err).Msg("generate signing key")
	}
	a.logger.Warn().Msg("AUTH_SIGNING_KEY not set, using an ephemeral key")
	return []byte(hex.EncodeToString(buf))
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
