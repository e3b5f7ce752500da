// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 收集生成流水线的 Prometheus 指标。
// 所有方法对 nil 接收者安全，未接入指标的组件可直接传 nil。
type Collector struct {
	// 生成调用指标
	generationTotal    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	submitTotal        *prometheus.CounterVec
	dedupHitsTotal     *prometheus.CounterVec
	pollAttempts       *prometheus.HistogramVec

	// 任务注册表指标
	registryActiveTasks prometheus.Gauge
	registrySweptTotal  prometheus.Counter
	registryRetired     prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器。
// namespace 区分同进程内的多个实例（测试隔离用）。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.generationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total generation calls by capability and terminal outcome",
		},
		[]string{"capability", "outcome"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall-clock duration of generation calls",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 900},
		},
		[]string{"capability"},
	)

	c.submitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_submits_total",
			Help:      "Total submissions sent to generation backends",
		},
		[]string{"capability"},
	)

	c.dedupHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_hits_total",
			Help:      "Generation calls that attached to an in-flight duplicate",
		},
		[]string{"capability"},
	)

	c.pollAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_attempts",
			Help:      "Status-check attempts per completed poll loop",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50, 100, 200, 300},
		},
		[]string{"capability"},
	)

	c.registryActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_registry_records",
			Help:      "Task records currently held by the registry",
		},
	)

	c.registrySweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_registry_swept_total",
			Help:      "Task records removed by expiry sweeps",
		},
	)

	c.registryRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_registry_retired_total",
			Help:      "Terminal task records retired after the grace window",
		},
	)

	return c
}

// =============================================================================
// 🎯 生成调用
// =============================================================================

// RecordGeneration 记录一次 generate 调用的终态与耗时。
func (c *Collector) RecordGeneration(capability, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.generationTotal.WithLabelValues(capability, outcome).Inc()
	c.generationDuration.WithLabelValues(capability).Observe(elapsed.Seconds())
}

// RecordSubmit 记录一次真实的后端提交。
func (c *Collector) RecordSubmit(capability string) {
	if c == nil {
		return
	}
	c.submitTotal.WithLabelValues(capability).Inc()
}

// RecordDedupHit 记录一次去重命中（挂靠已运行的等价任务）。
func (c *Collector) RecordDedupHit(capability string) {
	if c == nil {
		return
	}
	c.dedupHitsTotal.WithLabelValues(capability).Inc()
}

// ObservePollAttempts 记录一次轮询循环消耗的检查次数。
func (c *Collector) ObservePollAttempts(capability string, attempts int) {
	if c == nil {
		return
	}
	c.pollAttempts.WithLabelValues(capability).Observe(float64(attempts))
}

// =============================================================================
// 🗂 任务注册表
// =============================================================================

// SetRegistryRecords 更新当前任务记录数。
func (c *Collector) SetRegistryRecords(n int) {
	if c == nil {
		return
	}
	c.registryActiveTasks.Set(float64(n))
}

// AddSwept 累计被过期清扫移除的记录数。
func (c *Collector) AddSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.registrySweptTotal.Add(float64(n))
}

// IncRetired 累计宽限期后退休的终态记录。
func (c *Collector) IncRetired() {
	if c == nil {
		return
	}
	c.registryRetired.Inc()
}
