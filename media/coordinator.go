// Package media 编排生成后端的"提交后轮询"公共流程。
//
// 能力客户端（speech/image/transcribe/timing）只携带后端私有知识：
// 端点、鉴权风格、状态字段命名与轮询预算。指纹计算、去重挂靠、
// 预约提交、轮询驱动与注册表终态回写统一在 Coordinator.Execute，
// 不再由每个客户端各写一遍。
package media

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/internal/metrics"
	"github.com/BaSui01/sceneflow/media/fingerprint"
	"github.com/BaSui01/sceneflow/media/poll"
	"github.com/BaSui01/sceneflow/media/task"
	"github.com/BaSui01/sceneflow/types"
)

// SubmitFunc 向后端提交一次生成请求，返回后端任务 id。
// 后端把终态结果内联在提交响应里时返回非空 first，
// 轮询循环据此零迭代短路，不再请求状态端点。
type SubmitFunc func(ctx context.Context) (taskID string, first *poll.Status, err error)

// CheckFunc 查询一次后端任务状态并归一化为四态 Status。
type CheckFunc func(ctx context.Context, taskID string) (poll.Status, error)

// Coordinator 驱动一次生成调用的完整生命周期。
// 多个并发 generate 调用共享同一 Coordinator（及其注册表）。
type Coordinator struct {
	registry *task.Registry
	executor *poll.Executor
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// CoordinatorOption 配置 Coordinator 的可选依赖。
type CoordinatorOption func(*Coordinator)

// WithMetrics 挂接指标收集器。
func WithMetrics(c *metrics.Collector) CoordinatorOption {
	return func(co *Coordinator) { co.metrics = c }
}

// NewCoordinator 创建协调器。
func NewCoordinator(registry *task.Registry, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	co := &Coordinator{
		registry: registry,
		executor: poll.NewExecutor(logger),
		logger:   logger.With(zap.String("component", "coordinator")),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Registry 返回协调器使用的任务注册表。
func (c *Coordinator) Registry() *task.Registry { return c.registry }

// Execute 执行去重后的提交与轮询：
//
//  1. 单临界区查重/预约 —— 存在活跃等价任务时挂靠其结果，绝不二次提交；
//  2. 否则提交后端、绑定任务 id；
//  3. 驱动轮询到终态并回写注册表，让去重及时停止把任务当作活跃。
//
// 取消信号贯穿全程：提交前、HTTP 等待中、轮询每次休眠都可中断。
func (c *Coordinator) Execute(
	ctx context.Context,
	capability string,
	fp fingerprint.Digest,
	submit SubmitFunc,
	check CheckFunc,
	pollCfg poll.Config,
) (json.RawMessage, error) {
	start := time.Now()
	log := c.logger.With(
		zap.String("capability", capability),
		zap.String("request_id", uuid.NewString()),
		zap.String("fingerprint", fp.Short()),
	)

	payload, err := c.execute(ctx, log, capability, fp, submit, check, pollCfg)
	c.metrics.RecordGeneration(capability, outcomeFor(err), time.Since(start))
	return payload, err
}

func (c *Coordinator) execute(
	ctx context.Context,
	log *zap.Logger,
	capability string,
	fp fingerprint.Digest,
	submit SubmitFunc,
	check CheckFunc,
	pollCfg poll.Config,
) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewError(types.ErrCancelled, "cancelled before submission").WithCause(err)
	}

	claim, ticket := c.registry.Acquire(fp)
	if ticket != nil {
		c.metrics.RecordDedupHit(capability)
		snap := ticket.Snapshot()
		log.Info("attached to in-flight duplicate",
			zap.String("task_id", snap.TaskID),
			zap.String("state", string(snap.State)),
		)
		return ticket.Wait(ctx)
	}

	c.metrics.RecordSubmit(capability)
	taskID, first, err := submit(ctx)
	if err != nil {
		serr := types.AsError(err).WithBackend(capability)
		claim.Release(serr)
		log.Warn("submission failed", zap.Error(serr))
		return nil, serr
	}

	if _, err := claim.Commit(taskID); err != nil {
		serr := types.AsError(err)
		claim.Release(serr)
		return nil, serr
	}
	log.Info("generation task submitted", zap.String("task_id", taskID))

	// 提交响应内联终态时，把它作为第一次"检查结果"注入，
	// 执行器的短路路径保证零休眠、零状态请求。
	inline := first
	checkFn := func(ctx context.Context) (poll.Status, error) {
		if inline != nil {
			s := *inline
			inline = nil
			return s, nil
		}
		return check(ctx, taskID)
	}

	attempts := 0
	userOnAttempt := pollCfg.OnAttempt
	pollCfg.OnAttempt = func(attempt int, transient bool) {
		attempts = attempt
		if userOnAttempt != nil {
			userOnAttempt(attempt, transient)
		}
	}

	payload, err := c.executor.Poll(ctx, pollCfg, checkFn)
	c.metrics.ObservePollAttempts(capability, attempts)

	if err != nil {
		serr := types.AsError(err).WithBackend(capability)
		if uerr := c.registry.UpdateState(taskID, task.StateFailed, nil, serr); uerr != nil {
			log.Warn("failed to record terminal failure", zap.Error(uerr))
		}
		log.Warn("generation task failed",
			zap.String("task_id", taskID),
			zap.Error(serr),
		)
		return nil, serr
	}

	if uerr := c.registry.UpdateState(taskID, task.StateCompleted, payload, nil); uerr != nil {
		log.Warn("failed to record completion", zap.Error(uerr))
	}
	log.Info("generation task completed",
		zap.String("task_id", taskID),
		zap.Int("poll_attempts", attempts),
	)
	return payload, nil
}

func outcomeFor(err error) string {
	if err == nil {
		return "completed"
	}
	switch types.GetErrorCode(err) {
	case types.ErrTimeout:
		return "timeout"
	case types.ErrCancelled:
		return "cancelled"
	case types.ErrTaskFailed:
		return "task_failed"
	case types.ErrDuplicateTaskID, types.ErrInvalidTransition:
		return "internal_fault"
	default:
		return "error"
	}
}
