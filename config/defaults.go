// =============================================================================
// 📦 SceneFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/sceneflow/media/image"
	"github.com/BaSui01/sceneflow/media/speech"
	"github.com/BaSui01/sceneflow/media/task"
	"github.com/BaSui01/sceneflow/media/timing"
	"github.com/BaSui01/sceneflow/media/transcribe"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log:      DefaultLogConfig(),
		Redis:    DefaultRedisConfig(),
		Registry: task.DefaultConfig(),
		Metrics:  DefaultMetricsConfig(),
		Backends: BackendsConfig{
			Speech:     speech.DefaultConfig(),
			Image:      image.DefaultConfig(),
			Transcribe: transcribe.DefaultConfig(),
			Timing:     timing.DefaultConfig(),
		},
		Pipeline: DefaultPipelineConfig(),
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultRedisConfig 返回默认 Redis 镜像配置（默认关闭）
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:   false,
		Addr:      "localhost:6379",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "sceneflow:task:",
		TTL:       10 * time.Minute,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "sceneflow",
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrentScenes: 4,
		OutputDir:           "out",
	}
}
