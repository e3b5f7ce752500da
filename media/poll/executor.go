// Package poll 实现统一的有界轮询执行器。
//
// 各生成后端的"提交后轮询"循环只在常量（尝试次数、间隔、退避倍率）与
// 状态字段命名上存在差异，算法本身是同一个。本包把差异收敛为 Config
// 参数与一个 CheckFunc 适配闭包：执行器驱动 CheckFunc 直到终态、
// 超时或取消，后端响应形态的漂移由各能力适配器归一化为四态 Status。
package poll

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/types"
)

// StatusKind 是一次状态检查的归一化结果类别。
type StatusKind int

const (
	// KindInProgress 任务仍在执行，继续轮询
	KindInProgress StatusKind = iota
	// KindSucceeded 任务成功，Payload 携带结果
	KindSucceeded
	// KindFailed 后端明确报告失败，不再重试
	KindFailed
)

// String implements fmt.Stringer.
func (k StatusKind) String() string {
	switch k {
	case KindInProgress:
		return "in_progress"
	case KindSucceeded:
		return "succeeded"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status 是 CheckFunc 归一化后的四态结果之一。
// 瞬时错误（网络/5xx）不走 Status，由 CheckFunc 以 error 返回。
type Status struct {
	Kind    StatusKind
	Payload json.RawMessage // 仅 KindSucceeded 时填充
	Err     *types.Error    // 仅 KindFailed 时填充
}

// InProgress 构造进行中状态。
func InProgress() Status { return Status{Kind: KindInProgress} }

// Succeeded 构造成功终态。
func Succeeded(payload json.RawMessage) Status {
	return Status{Kind: KindSucceeded, Payload: payload}
}

// Failed 构造失败终态。
func Failed(err *types.Error) Status { return Status{Kind: KindFailed, Err: err} }

// CheckFunc 查询一次后端任务状态并归一化为 Status。
// 返回 error 表示瞬时失败（网络错误、5xx、限流），执行器会退避重试；
// 返回的 *types.Error 若 Retryable=false 则视为终态，立即透传。
type CheckFunc func(ctx context.Context) (Status, error)

// Config 控制一次轮询循环。每次 generate 调用独立创建，不跨调用共享。
type Config struct {
	// MaxAttempts 总尝试次数上限，进行中与瞬时错误都计数
	MaxAttempts int
	// Interval 两次检查之间的休眠时间
	Interval time.Duration
	// BackoffMultiplier 瞬时错误后的休眠倍率（观测值 2~3）
	BackoffMultiplier float64
	// OnAttempt 每次检查后的回调（指标埋点用），可为 nil
	OnAttempt func(attempt int, transient bool)
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BackoffMultiplier < 1.0 {
		c.BackoffMultiplier = 2.0
	}
	return c
}

// Executor 把 CheckFunc 驱动到终态。无共享可变状态，可并发复用。
type Executor struct {
	logger *zap.Logger
}

// NewExecutor 创建轮询执行器。
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger.With(zap.String("component", "poll"))}
}

// Poll 驱动 check 直到终态结果、超时或取消。
//
// 循环不变量：
//   - 第一次检查不休眠 —— 提交响应已携带终态时零迭代短路返回；
//   - 进行中休眠 Interval，瞬时错误休眠 Interval × BackoffMultiplier；
//   - ctx 取消在休眠中途立即生效，返回 CANCELLED；
//   - 尝试 MaxAttempts 次仍未到终态，返回 TIMEOUT（含耗时与次数）。
func (e *Executor) Poll(ctx context.Context, cfg Config, check CheckFunc) (json.RawMessage, error) {
	cfg = cfg.normalized()
	start := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err, attempt-1, start)
		}

		status, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// HTTP 请求因取消中断
				return nil, cancelled(ctx.Err(), attempt, start)
			}
			if se := types.AsError(err); se.Code != types.ErrTaskFailed && !se.Retryable {
				// 适配器给出的非瞬时结构化错误，不属于重试范畴
				return nil, se
			}
			if cfg.OnAttempt != nil {
				cfg.OnAttempt(attempt, true)
			}
			e.logger.Debug("transient error during status check",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Error(err),
			)
			if attempt == cfg.MaxAttempts {
				break
			}
			backoff := time.Duration(float64(cfg.Interval) * cfg.BackoffMultiplier)
			if serr := e.sleep(ctx, backoff); serr != nil {
				return nil, cancelled(serr, attempt, start)
			}
			continue
		}

		if cfg.OnAttempt != nil {
			cfg.OnAttempt(attempt, false)
		}

		switch status.Kind {
		case KindSucceeded:
			e.logger.Debug("task reached terminal state",
				zap.Int("attempts", attempt),
				zap.Duration("elapsed", time.Since(start)),
			)
			return status.Payload, nil

		case KindFailed:
			err := status.Err
			if err == nil {
				err = types.NewError(types.ErrTaskFailed, "backend reported failure without detail")
			}
			return nil, err.WithAttempts(attempt).WithElapsed(time.Since(start))

		case KindInProgress:
			if attempt == cfg.MaxAttempts {
				break
			}
			if serr := e.sleep(ctx, cfg.Interval); serr != nil {
				return nil, cancelled(serr, attempt, start)
			}
		}
	}

	elapsed := time.Since(start)
	e.logger.Warn("poll budget exhausted",
		zap.Int("attempts", cfg.MaxAttempts),
		zap.Duration("elapsed", elapsed),
	)
	return nil, types.NewError(types.ErrTimeout, "poll budget exhausted before terminal state").
		WithAttempts(cfg.MaxAttempts).
		WithElapsed(elapsed)
}

// sleep 等待 d，ctx 取消时提前返回。
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancelled(cause error, attempts int, start time.Time) *types.Error {
	return types.NewError(types.ErrCancelled, "polling cancelled by caller").
		WithCause(cause).
		WithAttempts(attempts).
		WithElapsed(time.Since(start))
}
