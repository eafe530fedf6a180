package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/roach88/lasso/internal/config"
	"github.com/roach88/lasso/internal/ingest"
	"github.com/roach88/lasso/internal/matching"
	"github.com/roach88/lasso/internal/store"
)

// backends are the storage collaborators selected by configuration.
type backends struct {
	store *store.Store
	redis *redis.Client
	dedup ingest.Deduper
	queue matching.Queue
}

// openStore opens the profile store at cfg.DBPath.
func openStore(cfg config.Config) (*store.Store, error) {
	slog.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath, store.WithCASRetries(cfg.CASRetries))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openBackends opens the store, connects to Redis when a backend needs it
// and builds the configured deduper and queue.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	b := &backends{store: st}

	if cfg.NeedsRedis() {
		b.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		slog.Info("redis connected", "addr", cfg.RedisAddr)
	}

	switch cfg.DedupBackend {
	case config.DedupSQLite:
		b.dedup = ingest.NewStoreDeduper(st, cfg.DedupWindow)
	case config.DedupRedis:
		b.dedup = ingest.NewRedisDeduper(b.redis, cfg.RedisPrefix, cfg.DedupWindow)
	case config.DedupDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load AWS config", err)
		}
		d, err := ingest.NewDynamoDeduper(awsdynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, cfg.DedupWindow)
		if err != nil {
			b.Close()
			return nil, WrapExitError(ExitCommandError, "failed to create dynamodb deduper", err)
		}
		b.dedup = d
	default:
		b.dedup = ingest.NewMemoryDeduper(cfg.DedupWindow, cfg.DedupCapacity)
	}

	switch cfg.QueueBackend {
	case config.QueueRedis:
		b.queue = matching.NewRedisQueue(b.redis, cfg.RedisPrefix)
	default:
		b.queue = matching.NewMemoryQueue()
	}

	slog.Debug("backends ready", "dedup", cfg.DedupBackend, "queue", cfg.QueueBackend)
	return b, nil
}

// Close releases every open backend.
func (b *backends) Close() error {
	var errs []error
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := b.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}

// newMatcher builds a matching engine over b that submits notices to sink.
func newMatcher(cfg config.Config, b *backends, sink matching.Sink, texts matching.Texts) (*matching.Engine, error) {
	scorer, err := matching.NewScorer(cfg.Weights())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid match weights", err)
	}
	return matching.NewEngine(b.store, b.queue, scorer, sink, texts,
		matching.WithCommitRetries(cfg.CASRetries)), nil
}
