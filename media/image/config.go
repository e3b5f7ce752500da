package image

import (
	"time"

	"github.com/BaSui01/sceneflow/media/transport"
)

// Config配置了图像生成后端.
type Config struct {
	Backend transport.Config `json:"backend" yaml:"backend" env:"BACKEND"`
	// MaxAttempts 轮询预算：总尝试次数
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" env:"MAX_ATTEMPTS"`
	// PollInterval 两次状态检查之间的间隔
	PollInterval time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty" env:"POLL_INTERVAL"`
	// BackoffMultiplier 瞬时错误后的休眠倍率
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty" env:"BACKOFF_MULTIPLIER"`
}

// 默认Config 返回默认图像后端配置（预算 150 × 2s，约 5 分钟）。
func DefaultConfig() Config {
	return Config{
		Backend: transport.Config{
			AuthStyle: transport.AuthBearer,
			Timeout:   30 * time.Second,
		},
		MaxAttempts:       150,
		PollInterval:      2 * time.Second,
		BackoffMultiplier: 3.0,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Backend.AuthStyle == "" {
		c.Backend.AuthStyle = def.Backend.AuthStyle
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BackoffMultiplier < 1.0 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}
