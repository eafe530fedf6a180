// Package config loads runtime settings from LASSO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/lasso/internal/dialogue"
	"github.com/roach88/lasso/internal/matching"
)

// Dedup backends.
const (
	DedupMemory = "memory"
	DedupSQLite = "sqlite"
	DedupRedis  = "redis"
	DedupDynamo = "dynamodb"
)

// Queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config is the full runtime configuration.
type Config struct {
	DBPath        string `env:"LASSO_DB_PATH"        envDefault:"lasso.db"`
	TelegramToken string `env:"LASSO_TELEGRAM_TOKEN"`
	AdminAddr     string `env:"LASSO_ADMIN_ADDR"     envDefault:":8080"`
	FlowPath      string `env:"LASSO_FLOW_PATH"`

	Lanes        int `env:"LASSO_LANES"         envDefault:"16"`
	LaneCapacity int `env:"LASSO_LANE_CAPACITY" envDefault:"64"`

	DedupBackend  string        `env:"LASSO_DEDUP_BACKEND"  envDefault:"memory"`
	DedupWindow   time.Duration `env:"LASSO_DEDUP_WINDOW"   envDefault:"24h"`
	DedupCapacity int           `env:"LASSO_DEDUP_CAPACITY" envDefault:"100000"`

	QueueBackend string `env:"LASSO_QUEUE_BACKEND" envDefault:"memory"`
	RedisAddr    string `env:"LASSO_REDIS_ADDR"    envDefault:"localhost:6379"`
	RedisPrefix  string `env:"LASSO_REDIS_PREFIX"  envDefault:"lasso:"`
	DynamoTable  string `env:"LASSO_DYNAMO_TABLE"`

	MatchInterval  time.Duration `env:"LASSO_MATCH_INTERVAL"        envDefault:"30s"`
	MaxAgeGap      int           `env:"LASSO_MATCH_MAX_AGE_GAP"     envDefault:"10"`
	MinScore       int           `env:"LASSO_MATCH_MIN_SCORE"       envDefault:"100"`
	InterestWeight int           `env:"LASSO_MATCH_INTEREST_WEIGHT" envDefault:"700"`
	AgeWeight      int           `env:"LASSO_MATCH_AGE_WEIGHT"      envDefault:"300"`

	CASRetries       int `env:"LASSO_CAS_RETRIES"       envDefault:"5"`
	DeliveryAttempts int `env:"LASSO_DELIVERY_ATTEMPTS" envDefault:"5"`
	OutboxWorkers    int `env:"LASSO_OUTBOX_WORKERS"    envDefault:"8"`
	OutboxCapacity   int `env:"LASSO_OUTBOX_CAPACITY"   envDefault:"256"`

	// FailureThreshold is how many consecutive storage failures stop the
	// engine or the matching scheduler.
	FailureThreshold int `env:"LASSO_FAILURE_THRESHOLD" envDefault:"5"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks cross-field constraints. All problems are reported.
func (c Config) Validate() error {
	var errs []error
	switch c.DedupBackend {
	case DedupMemory, DedupSQLite, DedupRedis:
	case DedupDynamo:
		if c.DynamoTable == "" {
			errs = append(errs, errors.New("LASSO_DYNAMO_TABLE is required for the dynamodb dedup backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("LASSO_DEDUP_BACKEND: unknown backend %q", c.DedupBackend))
	}
	switch c.QueueBackend {
	case QueueMemory, QueueRedis:
	default:
		errs = append(errs, fmt.Errorf("LASSO_QUEUE_BACKEND: unknown backend %q", c.QueueBackend))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("LASSO_DB_PATH must not be empty"))
	}
	if c.DedupWindow <= 0 {
		errs = append(errs, errors.New("LASSO_DEDUP_WINDOW must be positive"))
	}
	if c.MatchInterval <= 0 {
		errs = append(errs, errors.New("LASSO_MATCH_INTERVAL must be positive"))
	}
	for name, v := range map[string]int{
		"LASSO_LANES":             c.Lanes,
		"LASSO_LANE_CAPACITY":     c.LaneCapacity,
		"LASSO_CAS_RETRIES":       c.CASRetries,
		"LASSO_DELIVERY_ATTEMPTS": c.DeliveryAttempts,
		"LASSO_OUTBOX_WORKERS":    c.OutboxWorkers,
		"LASSO_OUTBOX_CAPACITY":   c.OutboxCapacity,
		"LASSO_FAILURE_THRESHOLD": c.FailureThreshold,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be at least 1", name))
		}
	}
	if err := c.Weights().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("match weights: %w", err))
	}
	return errors.Join(errs...)
}

// NeedsRedis reports whether any backend talks to Redis.
func (c Config) NeedsRedis() bool {
	return c.DedupBackend == DedupRedis || c.QueueBackend == QueueRedis
}

// Weights returns the scoring weights.
func (c Config) Weights() matching.Weights {
	return matching.Weights{
		InterestWeight: c.InterestWeight,
		AgeWeight:      c.AgeWeight,
		MaxAgeGap:      c.MaxAgeGap,
		MinScore:       c.MinScore,
	}
}

// Flow returns the conversation flow: the file at FlowPath when set,
// otherwise the built-in one.
func (c Config) Flow() (*dialogue.Flow, error) {
	if c.FlowPath == "" {
		return dialogue.DefaultFlow()
	}
	src, err := os.ReadFile(c.FlowPath)
	if err != nil {
		return nil, fmt.Errorf("read flow: %w", err)
	}
	return dialogue.CompileFlow(src, c.FlowPath)
}
