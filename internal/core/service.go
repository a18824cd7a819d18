package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/warehouse-dq/internal/config"
	"github.com/JonMunkholm/warehouse-dq/internal/logging"
	"github.com/JonMunkholm/warehouse-dq/internal/metrics"
)

// persistTimeout bounds the write of one outcome after its evaluation ended.
const persistTimeout = 5 * time.Second

// Service provides rule registration, evaluation, profiling, history and
// maintenance over one warehouse database.
type Service struct {
	db      DB
	catalog *Catalog
	cfg     Options

	runLimiter *RunLimiter
	logger     *slog.Logger
	metrics    *metrics.Recorder

	maintMu    sync.Mutex
	maintLocks map[string]*sync.Mutex
}

// Options are the tunables Service reads from config.
type Options struct {
	RuleTimeout       time.Duration
	RuleConcurrency   int
	MaxConcurrentRuns int
	RunMaxWait        time.Duration
	DefaultSchema     string
	ObjectTimeout     time.Duration
	CatalogCacheTTL   time.Duration
	CatalogCacheSize  int64
}

// OptionsFromConfig extracts Service options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RuleTimeout:       cfg.Quality.RuleTimeout,
		RuleConcurrency:   cfg.Quality.RuleConcurrency,
		MaxConcurrentRuns: cfg.Quality.MaxConcurrentRuns,
		RunMaxWait:        cfg.Quality.RunMaxWait,
		DefaultSchema:     cfg.Quality.DefaultSchema,
		ObjectTimeout:     cfg.Maintenance.ObjectTimeout,
		CatalogCacheTTL:   cfg.Catalog.CacheTTL,
		CatalogCacheSize:  cfg.Catalog.CacheSize,
	}
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger used for evaluation and maintenance events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records evaluations and maintenance in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

// NewService creates a Service over db.
func NewService(db DB, opts Options, extra ...Option) (*Service, error) {
	if opts.RuleTimeout <= 0 {
		opts.RuleTimeout = 30 * time.Second
	}
	if opts.RuleConcurrency <= 0 {
		opts.RuleConcurrency = 1
	}
	if opts.ObjectTimeout <= 0 {
		opts.ObjectTimeout = 10 * time.Minute
	}
	if opts.DefaultSchema == "" {
		opts.DefaultSchema = "public"
	}

	catalog, err := NewCatalog(db, opts.CatalogCacheSize, opts.CatalogCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("new service: %w", err)
	}

	s := &Service{
		db:         db,
		catalog:    catalog,
		cfg:        opts,
		runLimiter: NewRunLimiter(opts.MaxConcurrentRuns, opts.RunMaxWait),
		logger:     logging.Discard(),
		maintLocks: make(map[string]*sync.Mutex),
	}
	for _, o := range extra {
		o(s)
	}
	return s, nil
}

// Catalog exposes identifier resolution.
func (s *Service) Catalog() *Catalog { return s.catalog }

// RunLimiter exposes the batch limiter for shutdown draining and status.
func (s *Service) RunLimiter() *RunLimiter { return s.runLimiter }

// Ping checks that the database answers.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

// DefaultSchema is the schema assumed when a caller names none.
func (s *Service) DefaultSchema() string { return s.cfg.DefaultSchema }

func (s *Service) schemaOrDefault(schema string) string {
	if schema == "" {
		return s.cfg.DefaultSchema
	}
	return schema
}
