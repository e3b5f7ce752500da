// Package sceneflow provides a top-level convenience entry point for running
// the video production pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/sceneflow"
//
//	studio, err := sceneflow.New(sceneflow.WithScript(script))
//	studio, err := sceneflow.New(sceneflow.WithConfigPath("config.yaml"), sceneflow.WithPlanner(myPlanner))
//
// New wires the full stack: config, task registry, media coordinator, the
// four generation clients and the pipeline producer. Close releases it.
package sceneflow

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/config"
	"github.com/BaSui01/sceneflow/internal/metrics"
	"github.com/BaSui01/sceneflow/media"
	"github.com/BaSui01/sceneflow/media/image"
	"github.com/BaSui01/sceneflow/media/speech"
	"github.com/BaSui01/sceneflow/media/task"
	"github.com/BaSui01/sceneflow/media/timing"
	"github.com/BaSui01/sceneflow/media/transcribe"
	"github.com/BaSui01/sceneflow/pipeline"
	"github.com/BaSui01/sceneflow/types"
)

type options struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	planner    pipeline.Planner
}

// Option configures the studio created by [New].
type Option func(*options)

// WithConfig sets a pre-built configuration. Skips the loader entirely.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigPath loads configuration from a YAML file.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPlanner sets the planner that turns a production brief into a script.
func WithPlanner(p pipeline.Planner) Option {
	return func(o *options) { o.planner = p }
}

// WithScript uses a fixed script instead of a planner.
func WithScript(script *pipeline.Script) Option {
	return func(o *options) { o.planner = &pipeline.StaticPlanner{Script: script} }
}

// Studio 持有一套完整接线的制作栈。
type Studio struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *task.Registry
	redis    *redis.Client
	producer *pipeline.Producer

	// 四个能力客户端，暴露给需要绕过流水线单独调用的场景
	Speech     *speech.Client
	Image      *image.Client
	Transcribe *transcribe.Client
	Timing     *timing.Client
}

// New 构建 Studio。未显式给出配置时走 加载器（默认值 → YAML → 环境变量）。
// 必须通过 [WithPlanner] 或 [WithScript] 提供剧本来源。
func New(opts ...Option) (*Studio, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.planner == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "a planner is required: use WithPlanner or WithScript")
	}

	cfg := o.cfg
	if cfg == nil {
		loader := config.NewLoader()
		if o.configPath != "" {
			loader = loader.WithConfigPath(o.configPath)
		}
		var err error
		cfg, err = loader.Load()
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	regOpts := []task.Option{task.WithMetrics(collector)}
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		regOpts = append(regOpts, task.WithStore(
			task.NewRedisStore(rdb, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger),
		))
	}

	registry := task.New(cfg.Registry, logger, regOpts...)
	registry.Start()

	co := media.NewCoordinator(registry, logger, media.WithMetrics(collector))

	s := &Studio{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		redis:    rdb,
	}
	closeOnErr := func(err error) (*Studio, error) {
		s.Close()
		return nil, err
	}
	var err error
	if s.Speech, err = speech.NewClient(cfg.Backends.Speech, co, logger); err != nil {
		return closeOnErr(err)
	}
	if s.Image, err = image.NewClient(cfg.Backends.Image, co, logger); err != nil {
		return closeOnErr(err)
	}
	if s.Transcribe, err = transcribe.NewClient(cfg.Backends.Transcribe, co, logger); err != nil {
		return closeOnErr(err)
	}
	if s.Timing, err = timing.NewClient(cfg.Backends.Timing, co, logger); err != nil {
		return closeOnErr(err)
	}

	var transcriber pipeline.Transcriber
	if cfg.Pipeline.Subtitles {
		transcriber = s.Transcribe
	}
	s.producer = pipeline.NewProducer(
		o.planner,
		s.Speech,
		s.Image,
		s.Timing,
		transcriber,
		pipeline.Options{
			MaxConcurrentScenes: cfg.Pipeline.MaxConcurrentScenes,
			Subtitles:           cfg.Pipeline.Subtitles,
		},
		logger,
	)

	return s, nil
}

// Produce 运行一次完整制作并返回产物清单。
func (s *Studio) Produce(ctx context.Context, brief string) (*pipeline.Production, error) {
	return s.producer.Produce(ctx, brief)
}

// Config returns the effective configuration.
func (s *Studio) Config() *config.Config { return s.cfg }

// Registry exposes the task registry for inspection and manual Await calls.
func (s *Studio) Registry() *task.Registry { return s.registry }

// Close 停止注册表并关闭 Redis 连接。幂等。
func (s *Studio) Close() error {
	s.registry.Shutdown()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
