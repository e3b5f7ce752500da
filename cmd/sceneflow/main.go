// =============================================================================
// SceneFlow 主入口
// =============================================================================
// 视频制作代理 CLI，包含完整流水线执行与任务记录检查
//
// 使用方法:
//
//	sceneflow produce --script script.yaml       # 运行制作流水线
//	sceneflow produce --config config.yaml ...   # 指定配置文件
//	sceneflow task --id <task-id>                # 检查 Redis 镜像中的任务记录
//	sceneflow version                            # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/sceneflow"
	"github.com/BaSui01/sceneflow/config"
	"github.com/BaSui01/sceneflow/media/task"
	"github.com/BaSui01/sceneflow/pipeline"
	goredis "github.com/redis/go-redis/v9"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "produce":
		runProduce(os.Args[2:])
	case "task":
		runTask(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🎬 produce 命令
// =============================================================================

func runProduce(args []string) {
	// 解析命令行参数
	fs := flag.NewFlagSet("produce", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	scriptPath := fs.String("script", "", "Path to production script (YAML)")
	brief := fs.String("brief", "", "Production brief passed to the planner")
	outDir := fs.String("out", "", "Override output directory for the manifest")
	subtitles := fs.Bool("subtitles", false, "Transcribe the narration track into subtitles")
	fs.Parse(args)

	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "produce requires --script")
		fs.Usage()
		os.Exit(1)
	}

	// 加载配置
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *outDir != "" {
		cfg.Pipeline.OutputDir = *outDir
	}
	if *subtitles {
		cfg.Pipeline.Subtitles = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting SceneFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 加载剧本
	script, err := loadScript(*scriptPath)
	if err != nil {
		logger.Fatal("Failed to load script", zap.Error(err))
	}

	studio, err := sceneflow.New(
		sceneflow.WithConfig(cfg),
		sceneflow.WithLogger(logger),
		sceneflow.WithScript(script),
	)
	if err != nil {
		logger.Fatal("Failed to build studio", zap.Error(err))
	}
	defer studio.Close()

	// Ctrl+C 取消整条流水线，由 context 传播到所有轮询循环
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	production, err := studio.Produce(ctx, *brief)
	if err != nil {
		logger.Fatal("Production failed", zap.Error(err))
	}

	manifestPath, err := writeManifest(cfg.Pipeline.OutputDir, production)
	if err != nil {
		logger.Fatal("Failed to write manifest", zap.Error(err))
	}

	logger.Info("Production complete",
		zap.String("title", production.Title),
		zap.Int("scenes", len(production.Scenes)),
		zap.String("manifest", manifestPath),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// loadScript 从 YAML 文件读取剧本
func loadScript(path string) (*pipeline.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var script pipeline.Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &script, nil
}

// writeManifest 将产物清单落盘为 JSON
func writeManifest(dir string, production *pipeline.Production) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(production, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// =============================================================================
// 🔍 task 命令
// =============================================================================

// runTask 从 Redis 镜像读取一条任务快照。镜像在任务退役后仍按 TTL 保留，
// 所以刚结束的任务在宽限期后依然可查。
func runTask(args []string) {
	fs := flag.NewFlagSet("task", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	taskID := fs.String("id", "", "Task id to look up")
	fs.Parse(args)

	if *taskID == "" {
		fmt.Fprintln(os.Stderr, "task requires --id")
		fs.Usage()
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Redis.Enabled {
		fmt.Fprintln(os.Stderr, "Redis mirror is disabled; enable redis in config to inspect task records")
		os.Exit(1)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	store := task.NewRedisStore(rdb, cfg.Redis.KeyPrefix, cfg.Redis.TTL, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, ok, err := store.Load(ctx, *taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lookup failed: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "Task %s not found in mirror\n", *taskID)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encode failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("SceneFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`SceneFlow - Video Production Agent

Usage:
  sceneflow <command> [options]

Commands:
  produce   Run the production pipeline from a script
  task      Inspect a task record in the Redis mirror
  version   Show version information
  help      Show this help message

Options for 'produce':
  --script <path>     Path to the production script (YAML, required)
  --config <path>     Path to configuration file (YAML)
  --brief <text>      Production brief passed to the planner
  --out <dir>         Override the manifest output directory
  --subtitles         Transcribe the narration track into subtitles

Options for 'task':
  --id <task-id>      Task id to look up (required)
  --config <path>     Path to configuration file (YAML)

Examples:
  sceneflow produce --script script.yaml
  sceneflow produce --script script.yaml --config /etc/sceneflow/config.yaml --subtitles
  sceneflow task --id 7c9e6679-7425-40de-944b-e07fc1f90ae7
  sceneflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// 构建 logger
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
