package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
	"github.com/H4tholdir/archibaldblackant-sub005/internal/config"
	"github.com/H4tholdir/archibaldblackant-sub005/pkg/notify"
	"github.com/H4tholdir/archibaldblackant-sub005/pkg/storage"
)

// agent bundles the wired services behind the run and sync commands.
type agent struct {
	db          *storage.DB
	pool        *archibald.SessionPool
	coordinator *archibald.PriorityCoordinator
	checkpoints *archibald.CheckpointManager
	learner     *archibald.TimeoutLearner
	scheduler   *archibald.Scheduler
	jobs        []*archibald.SyncJob
}

func resolveUserID() string {
	if rootUserID != "" {
		return rootUserID
	}
	return config.String("ARCHIBALD_USER_ID", "default")
}

func buildAgent(ctx context.Context) (*agent, error) {
	db, err := storage.Open()
	if err != nil {
		return nil, err
	}

	checkpointStore, err := storage.NewCheckpointStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	checkpoints, err := archibald.NewCheckpointManager(checkpointStore)
	if err != nil {
		db.Close()
		return nil, err
	}

	statsStore, err := storage.NewStatsStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	learner, err := archibald.NewTimeoutLearner(ctx, archibald.TimeoutConfig{
		MinTimeout:     config.Duration("ARCHIBALD_TIMEOUT_MIN", 2*time.Second),
		MaxTimeout:     config.Duration("ARCHIBALD_TIMEOUT_MAX", 60*time.Second),
		InitialTimeout: config.Duration("ARCHIBALD_TIMEOUT_INITIAL", 15*time.Second),
	}, statsStore)
	if err != nil {
		db.Close()
		return nil, err
	}

	recordStore, err := storage.NewRecordStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	engine, err := archibald.NewDeltaEngine(recordStore, nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	conn, err := newConnector(resolveConnectorKind())
	if err != nil {
		db.Close()
		return nil, err
	}

	cacheDir := config.String("ARCHIBALD_CACHE_DIR", "")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "locate user home failed")
		}
		cacheDir = filepath.Join(home, ".archibald", "sessions")
	}
	pool, err := archibald.NewSessionPool(archibald.PoolConfig{
		Driver: conn.Driver(),
		Credentials: archibald.StaticCredentials{
			Username: config.String("ARCHIBALD_USERNAME", ""),
			Password: config.String("ARCHIBALD_PASSWORD", ""),
		},
		CacheDir:   cacheDir,
		SessionTTL: config.Duration("ARCHIBALD_SESSION_TTL", time.Hour),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	var notifier archibald.Notifier
	if webhook := config.String("ARCHIBALD_PROGRESS_WEBHOOK", ""); webhook != "" {
		notifier, err = notify.NewWebhookNotifier(webhook, 10*time.Second)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	coordinator := archibald.NewPriorityCoordinator()
	jobs, err := archibald.BuildSyncJobs(archibald.JobDeps{
		UserID:      resolveUserID(),
		Pool:        pool,
		Engine:      engine,
		Checkpoints: checkpoints,
		Learner:     learner,
		Notifier:    notifier,
		Retry: archibald.RetryConfig{
			MaxAttempts: config.Int("ARCHIBALD_RETRY_ATTEMPTS", 3),
			Backoff:     config.Duration("ARCHIBALD_RETRY_BACKOFF", 2*time.Second),
		},
		DeleteMissing: config.Bool("ARCHIBALD_DELETE_MISSING", false),
	}, conn.Fetchers())
	if err != nil {
		db.Close()
		return nil, err
	}
	scheduler, err := archibald.NewScheduler(archibald.SchedulerConfig{
		Interval:    config.Duration("ARCHIBALD_SYNC_INTERVAL", 30*time.Minute),
		Jobs:        jobs,
		Coordinator: coordinator,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("db", db.Path()).Str("cache_dir", cacheDir).Msg("agent wired")
	return &agent{
		db:          db,
		pool:        pool,
		coordinator: coordinator,
		checkpoints: checkpoints,
		learner:     learner,
		scheduler:   scheduler,
		jobs:        jobs,
	}, nil
}

func resolveConnectorKind() string {
	if rootConnector != "" {
		return rootConnector
	}
	return config.String("ARCHIBALD_CONNECTOR", "file")
}

func (a *agent) close(ctx context.Context) {
	a.pool.Close(ctx)
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("close database failed")
	}
}
