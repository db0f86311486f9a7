package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/upb/authaudit/auth"
	"github.com/upb/authaudit/config"
	"github.com/upb/authaudit/internal/observability"
	"github.com/upb/authaudit/middleware"
	"github.com/upb/authaudit/repositories"
	"github.com/upb/authaudit/repositories/postgres"
	"github.com/upb/authaudit/repositories/redisstream"
	"github.com/upb/authaudit/services/audit"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry // nil when metrics are disabled
	Metrics  observability.Metrics

	// Storage. Records is nil when the sink cannot be queried.
	RepoFactory *postgres.RepositoryFactory
	Redis       *redis.Client
	Records     repositories.AuditRepository

	// Audit pipeline
	Sink       audit.Sink
	Recorder   *audit.Recorder
	Dispatcher *audit.Dispatcher

	// Auth
	OperatorTokens *auth.OperatorTokens
	AuthMiddleware *middleware.AuthMiddleware

	fileSink *audit.WriterSink
}

// NewDependencies creates and wires up all application dependencies.
// The dispatcher is started before returning.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initMetrics(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := deps.initSink(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize audit sink: %w", err)
	}

	if err := deps.initPipeline(cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize audit pipeline: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("sink", cfg.Sink.Kind),
		zap.String("recorder_id", deps.Recorder.ID().String()),
		zap.Bool("queryable", deps.Records != nil))
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) error {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	metrics := observability.NewPrometheusMetrics()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	d.Registry = reg
	d.Metrics = metrics
	return nil
}

// initSink builds the configured sink and, for queryable sinks, the repository behind it
func (d *Dependencies) initSink(ctx context.Context, cfg *config.Config) error {
	var sink audit.Sink

	switch cfg.Sink.Kind {
	case config.SinkMemory:
		sink = audit.NewMemorySink()

	case config.SinkLog:
		sink = audit.NewLoggerSink(d.Logger)

	case config.SinkFile:
		fileSink, err := audit.OpenFileSink(cfg.Sink.FilePath, audit.LineFormat(cfg.Sink.Format))
		if err != nil {
			return err
		}
		d.fileSink = fileSink
		sink = fileSink
		d.Logger.Info("audit file sink opened",
			zap.String("path", cfg.Sink.FilePath),
			zap.String("format", cfg.Sink.Format))

	case config.SinkPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
		d.RepoFactory = factory

		if err := factory.InitAuditSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize audit schema: %w", err)
		}

		d.Records = factory.AuditRepository()
		sink = audit.NewRepositorySink(d.Records)
		d.Logger.Info("database connection established",
			zap.String("connection", cfg.Database.LogString()))

	case config.SinkRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.Redis = client

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		d.Records = redisstream.NewAuditStream(client, cfg.Redis.Stream, d.Logger)
		sink = audit.NewRepositorySink(d.Records)
		d.Logger.Info("redis stream sink connected",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("stream", cfg.Redis.Stream))

	default:
		return fmt.Errorf("unknown audit sink %q", cfg.Sink.Kind)
	}

	if cfg.Sink.Echo && cfg.Sink.Kind != config.SinkLog {
		sink = audit.NewTeeSink(sink, audit.NewLoggerSink(d.Logger))
	}

	d.Sink = sink
	return nil
}

func (d *Dependencies) initPipeline(cfg *config.Config) error {
	d.Recorder = audit.NewRecorder(d.Sink, d.Logger, d.Metrics, audit.RecorderOptions{
		AppendTimeout: cfg.Recorder.AppendTimeout,
		SequenceStart: cfg.Recorder.SequenceStart,
	})

	d.Dispatcher = audit.NewDispatcher(d.Recorder, d.Logger, d.Metrics, audit.DispatcherConfig{
		BufferSize:  cfg.Recorder.QueueSize,
		WorkerCount: cfg.Recorder.Workers,
	})
	return d.Dispatcher.Start()
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	d.OperatorTokens = auth.NewOperatorTokens(cfg.Operator.JWTSecret, cfg.Operator.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.OperatorTokens, d.Logger)

	if cfg.Operator.JWTSecret == "" {
		d.Logger.Warn("OPERATOR_JWT_SECRET not set, operator read API rejects every request")
	}
}

// Close gracefully shuts down all dependencies. Queued events are drained
// into the recorder before the sink is closed.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Dispatcher != nil {
		if err := d.Dispatcher.Stop(d.Config.Recorder.StopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop dispatcher: %w", err))
		}
	}

	if d.Recorder != nil {
		if err := d.Recorder.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close recorder: %w", err))
		}
	}

	if err := d.closeStorage(); err != nil {
		errs = append(errs, err)
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeStorage() error {
	var errs []error

	if d.fileSink != nil {
		if err := d.fileSink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit file: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis client: %w", err))
		}
	}

	return errors.Join(errs...)
}
