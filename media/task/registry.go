// Package task 维护进程内的生成任务注册表。
//
// Registry 是"等价任务是否已在运行"与"任务 X 处于什么状态"的唯一权威。
// 它以显式实例 + Start/Shutdown 生命周期存在，注入到每个生成客户端，
// 不做隐藏全局单例。记录纯内存持有，进程重启即丢失；可选的 Redis
// 镜像仅用于诊断观测，去重判定从不读它。
package task

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/internal/metrics"
	"github.com/BaSui01/sceneflow/media/fingerprint"
	"github.com/BaSui01/sceneflow/types"
)

// State 是任务生命周期状态。
// 状态机：Pending → Processing → {Completed, Failed}，终态不再迁移。
type State string

const (
	// StatePending 预约已建立、后端提交尚未返回任务 id
	StatePending State = "pending"
	// StateProcessing 后端任务运行中
	StateProcessing State = "processing"
	// StateCompleted 成功终态
	StateCompleted State = "completed"
	// StateFailed 失败终态
	StateFailed State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Active reports whether an equivalent request should attach instead of submitting.
func (s State) Active() bool {
	return s == StatePending || s == StateProcessing
}

// record 是注册表私有的任务记录。除单个轮询周期外，
// 其他组件不长期持有引用，外部只见 Snapshot 拷贝。
type record struct {
	taskID      string
	fingerprint fingerprint.Digest
	state       State
	createdAt   time.Time
	result      json.RawMessage
	err         *types.Error

	// done 在进入终态（或被清扫强制失败）时关闭，唤醒挂靠的等待者。
	done chan struct{}
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		TaskID:      r.taskID,
		Fingerprint: r.fingerprint,
		State:       r.state,
		CreatedAt:   r.createdAt,
		Result:      r.result,
		Err:         r.err,
	}
}

// Snapshot 是任务记录的不可变视图。
type Snapshot struct {
	TaskID      string             `json:"task_id"`
	Fingerprint fingerprint.Digest `json:"fingerprint"`
	State       State              `json:"state"`
	CreatedAt   time.Time          `json:"created_at"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Err         *types.Error       `json:"error,omitempty"`
}

// Config 注册表配置。
type Config struct {
	// Expiry 任务记录最长存活时间（TASK_EXPIRY）
	Expiry time.Duration `yaml:"expiry" env:"EXPIRY"`
	// CleanupInterval 后台清扫周期
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	// RetireDelay 终态记录的退休宽限期
	RetireDelay time.Duration `yaml:"retire_delay" env:"RETIRE_DELAY"`
}

// DefaultConfig 返回默认注册表配置。
func DefaultConfig() Config {
	return Config{
		Expiry:          10 * time.Minute,
		CleanupInterval: 60 * time.Second,
		RetireDelay:     5 * time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.Expiry <= 0 {
		c.Expiry = def.Expiry
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.RetireDelay < 0 {
		c.RetireDelay = def.RetireDelay
	}
	return c
}

// Option 配置 Registry 的可选依赖。
type Option func(*Registry)

// WithStore 挂接诊断镜像存储（Redis）。写入尽力而为，失败只记日志。
func WithStore(store RecordStore) Option {
	return func(r *Registry) { r.store = store }
}

// WithMetrics 挂接指标收集器。
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// Registry 是共享的任务记录集合。
// 所有操作互斥：findActive+register 的 check-then-act 在 Acquire
// 中以单个临界区完成，杜绝双提交竞态。
type Registry struct {
	cfg     Config
	logger  *zap.Logger
	store   RecordStore
	metrics *metrics.Collector

	mu     sync.Mutex
	byID   map[string]*record
	byFP   map[fingerprint.Digest][]*record
	timers map[string]*time.Timer

	stopCh  chan struct{}
	started bool
	closed  bool
}

// New 创建注册表。调用 Start 前后台清扫不运行。
func New(cfg Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		cfg:    cfg.normalized(),
		logger: logger.With(zap.String("component", "task_registry")),
		byID:   make(map[string]*record),
		byFP:   make(map[fingerprint.Digest][]*record),
		timers: make(map[string]*time.Timer),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start 启动后台过期清扫。重复调用是 no-op。
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.sweepLoop()
	r.logger.Info("task registry started",
		zap.Duration("expiry", r.cfg.Expiry),
		zap.Duration("cleanup_interval", r.cfg.CleanupInterval),
		zap.Duration("retire_delay", r.cfg.RetireDelay),
	)
}

// Shutdown 停止清扫与所有退休定时器。已挂起的等待者被取消唤醒。
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stopCh)
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	for _, rec := range r.byID {
		if !rec.state.Terminal() {
			rec.state = StateFailed
			rec.err = types.NewError(types.ErrCancelled, "registry shut down before terminal state")
			close(rec.done)
		}
	}
	r.mu.Unlock()
	r.logger.Info("task registry stopped")
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.SweepExpired(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// FindActive 返回指纹对应的活跃（Pending/Processing 且未过期）记录。
// 同指纹多条记录时取最近创建的一条。
func (r *Registry) FindActive(fp fingerprint.Digest) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.findActiveLocked(fp, time.Now())
	if rec == nil {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

func (r *Registry) findActiveLocked(fp fingerprint.Digest, now time.Time) *record {
	var newest *record
	for _, rec := range r.byFP[fp] {
		if !rec.state.Active() {
			continue
		}
		if now.Sub(rec.createdAt) >= r.cfg.Expiry {
			continue
		}
		if newest == nil || rec.createdAt.After(newest.createdAt) {
			newest = rec
		}
	}
	return newest
}

// Claim 是 Acquire 发放的提交许可：持有者负责向后端提交，
// 成功后 Commit 绑定后端任务 id，失败则 Release。
type Claim struct {
	r         *Registry
	pendingID string
	fp        fingerprint.Digest
}

// PendingID 返回预约占位 id（日志用）。
func (c *Claim) PendingID() string { return c.pendingID }

// Ticket 是挂靠既有任务的等待凭据。
// 它直接持有记录引用，预约记录随后被 Commit 换绑到后端任务 id
// 也不影响等待：Wait 永远唤醒在同一条记录上。
type Ticket struct {
	rec  *record
	snap Snapshot
}

// Snapshot 返回挂靠时刻的记录快照。
func (t *Ticket) Snapshot() Snapshot { return t.snap }

// Wait 阻塞到任务终态并返回其结果。
func (t *Ticket) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-ctx.Done():
		return nil, types.NewError(types.ErrCancelled, "wait for task result cancelled").WithCause(ctx.Err())
	case <-t.rec.done:
	}
	if t.rec.err != nil {
		return nil, t.rec.err
	}
	return t.rec.result, nil
}

// Acquire 在单个临界区内完成查重与预约：
// 存在活跃等价任务时返回其等待凭据（ticket），
// 否则创建 Pending 预约记录并返回 Claim。
// 两个并发的等价调用至多有一个拿到 Claim。
func (r *Registry) Acquire(fp fingerprint.Digest) (*Claim, *Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec := r.findActiveLocked(fp, time.Now()); rec != nil {
		return nil, &Ticket{rec: rec, snap: rec.snapshot()}
	}

	pendingID := "pending-" + uuid.NewString()
	rec := &record{
		taskID:      pendingID,
		fingerprint: fp,
		state:       StatePending,
		createdAt:   time.Now(),
		done:        make(chan struct{}),
	}
	r.insertLocked(rec)

	r.logger.Debug("reserved pending task",
		zap.String("pending_id", pendingID),
		zap.String("fingerprint", fp.Short()),
	)
	return &Claim{r: r, pendingID: pendingID, fp: fp}, nil
}

// Commit 把预约绑定到后端任务 id（Pending → Processing）。
// taskID 已被占用时返回 DUPLICATE_TASK_ID。
// 预约在提交期间被清扫走时重建记录，等待者已被清扫唤醒。
func (c *Claim) Commit(taskID string) (Snapshot, error) {
	r := c.r
	r.mu.Lock()

	if _, ok := r.byID[taskID]; ok {
		r.mu.Unlock()
		return Snapshot{}, types.NewError(types.ErrDuplicateTaskID, "task id already registered: "+taskID)
	}

	rec, ok := r.byID[c.pendingID]
	if !ok {
		rec = &record{
			fingerprint: c.fp,
			createdAt:   time.Now(),
			done:        make(chan struct{}),
		}
		r.byFP[c.fp] = append(r.byFP[c.fp], rec)
	} else {
		delete(r.byID, c.pendingID)
	}
	rec.taskID = taskID
	rec.state = StateProcessing
	r.byID[taskID] = rec
	r.setGaugeLocked()
	snap := rec.snapshot()
	r.mu.Unlock()

	r.mirror(snap)
	return snap, nil
}

// Release 在提交失败/取消时撤销预约：标记失败、唤醒等待者、立即删除。
func (c *Claim) Release(terr *types.Error) {
	r := c.r
	r.mu.Lock()
	rec, ok := r.byID[c.pendingID]
	if ok {
		if terr == nil {
			terr = types.NewError(types.ErrTaskFailed, "submission aborted")
		}
		rec.state = StateFailed
		rec.err = terr
		close(rec.done)
		r.deleteLocked(rec)
	}
	r.mu.Unlock()
}

// Register 直接注册一条 Processing 记录。
// taskID 必须未被占用，否则 DUPLICATE_TASK_ID。
func (r *Registry) Register(taskID string, fp fingerprint.Digest) (Snapshot, error) {
	r.mu.Lock()

	if _, ok := r.byID[taskID]; ok {
		r.mu.Unlock()
		return Snapshot{}, types.NewError(types.ErrDuplicateTaskID, "task id already registered: "+taskID)
	}

	rec := &record{
		taskID:      taskID,
		fingerprint: fp,
		state:       StateProcessing,
		createdAt:   time.Now(),
		done:        make(chan struct{}),
	}
	r.insertLocked(rec)
	snap := rec.snapshot()
	r.mu.Unlock()

	r.mirror(snap)
	return snap, nil
}

// UpdateState 执行一次状态迁移。
// 非法迁移返回 INVALID_TRANSITION；taskID 已被清扫时静默 no-op。
// 进入终态时写入 result/err、唤醒等待者，并在 RetireDelay 后退休记录。
func (r *Registry) UpdateState(taskID string, next State, result json.RawMessage, terr *types.Error) error {
	r.mu.Lock()

	rec, ok := r.byID[taskID]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	if !legalTransition(rec.state, next) {
		from := rec.state
		r.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			"illegal transition "+string(from)+" -> "+string(next))
	}

	rec.state = next
	if next.Terminal() {
		rec.result = result
		rec.err = terr
		close(rec.done)
		r.scheduleRetireLocked(rec)
	}
	snap := rec.snapshot()
	r.mu.Unlock()

	r.mirror(snap)
	return nil
}

func legalTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// scheduleRetireLocked 在宽限期后删除终态记录。
// 宽限期内的迟到查重仍可观察到终态结果（仅诊断用途，不参与去重）。
func (r *Registry) scheduleRetireLocked(rec *record) {
	if r.closed {
		return
	}
	taskID := rec.taskID
	r.timers[taskID] = time.AfterFunc(r.cfg.RetireDelay, func() {
		r.mu.Lock()
		delete(r.timers, taskID)
		if cur, ok := r.byID[taskID]; ok && cur == rec {
			r.deleteLocked(rec)
			r.metrics.IncRetired()
		}
		r.mu.Unlock()

		if r.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := r.store.Delete(ctx, taskID); err != nil {
				r.logger.Debug("mirror delete failed", zap.String("task_id", taskID), zap.Error(err))
			}
		}
	})
}

// SweepExpired 移除所有超过 Expiry 的记录，无论状态。
// 仍在进行中的记录被强制失败，让挂靠的等待者解除阻塞。
// 返回移除条数。
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.Lock()

	var expired []*record
	for _, rec := range r.byID {
		if now.Sub(rec.createdAt) > r.cfg.Expiry {
			expired = append(expired, rec)
		}
	}
	for _, rec := range expired {
		if !rec.state.Terminal() {
			rec.state = StateFailed
			rec.err = types.NewError(types.ErrTimeout, "task record expired before terminal state").
				WithElapsed(now.Sub(rec.createdAt))
			close(rec.done)
		}
		if timer, ok := r.timers[rec.taskID]; ok {
			timer.Stop()
			delete(r.timers, rec.taskID)
		}
		r.deleteLocked(rec)
	}
	n := len(expired)
	r.mu.Unlock()

	if n > 0 {
		r.metrics.AddSwept(n)
		r.logger.Debug("swept expired task records", zap.Int("removed", n))
	}
	return n
}

// Await 阻塞等待任务终态并返回其结果。
// 去重挂靠方用它消费原任务的最终结果而不发起第二次提交。
func (r *Registry) Await(ctx context.Context, taskID string) (json.RawMessage, error) {
	r.mu.Lock()
	rec, ok := r.byID[taskID]
	if !ok {
		r.mu.Unlock()
		return nil, types.NewError(types.ErrTimeout, "task record no longer present: "+taskID)
	}
	done := rec.done
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, types.NewError(types.ErrCancelled, "wait for task result cancelled").WithCause(ctx.Err())
	case <-done:
	}

	// done 关闭后终态字段不再变化，读取无需持锁；
	// 记录可能已从 map 退休，指针仍有效。
	if rec.err != nil {
		return nil, rec.err
	}
	return rec.result, nil
}

// Len 返回当前记录数（诊断用）。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *Registry) insertLocked(rec *record) {
	r.byID[rec.taskID] = rec
	r.byFP[rec.fingerprint] = append(r.byFP[rec.fingerprint], rec)
	r.setGaugeLocked()
}

func (r *Registry) deleteLocked(rec *record) {
	delete(r.byID, rec.taskID)
	peers := r.byFP[rec.fingerprint]
	for i, p := range peers {
		if p == rec {
			r.byFP[rec.fingerprint] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(r.byFP[rec.fingerprint]) == 0 {
		delete(r.byFP, rec.fingerprint)
	}
	r.setGaugeLocked()
}

func (r *Registry) setGaugeLocked() {
	r.metrics.SetRegistryRecords(len(r.byID))
}

// mirror 尽力而为地把快照写入诊断存储，不持锁调用。
func (r *Registry) mirror(snap Snapshot) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Debug("mirror save failed",
			zap.String("task_id", snap.TaskID),
			zap.Error(err),
		)
	}
}
