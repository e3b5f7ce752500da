package media

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/media/fingerprint"
	"github.com/BaSui01/sceneflow/media/poll"
	"github.com/BaSui01/sceneflow/media/task"
	"github.com/BaSui01/sceneflow/types"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	registry := task.New(task.Config{}, zap.NewNop())
	t.Cleanup(registry.Shutdown)
	return NewCoordinator(registry, zap.NewNop())
}

func testDigest(t *testing.T, text string) fingerprint.Digest {
	t.Helper()
	fp, err := fingerprint.Compute(text, nil)
	require.NoError(t, err)
	return fp
}

func TestExecute_SubmitThenPoll(t *testing.T) {
	co := newTestCoordinator(t)
	var checks int32

	payload, err := co.Execute(context.Background(), "speech", testDigest(t, "hi"),
		func(ctx context.Context) (string, *poll.Status, error) {
			return "task-1", nil, nil
		},
		func(ctx context.Context, taskID string) (poll.Status, error) {
			assert.Equal(t, "task-1", taskID)
			if atomic.AddInt32(&checks, 1) < 3 {
				return poll.InProgress(), nil
			}
			return poll.Succeeded(json.RawMessage(`{"audio_url":"u"}`)), nil
		},
		poll.Config{MaxAttempts: 10, Interval: time.Millisecond},
	)

	require.NoError(t, err)
	assert.JSONEq(t, `{"audio_url":"u"}`, string(payload))
	assert.Equal(t, int32(3), atomic.LoadInt32(&checks))
}

func TestExecute_ConcurrentDuplicates_SingleSubmission(t *testing.T) {
	co := newTestCoordinator(t)
	fp := testDigest(t, "Hello world")

	var submits, checks int32
	run := func() (json.RawMessage, error) {
		return co.Execute(context.Background(), "speech", fp,
			func(ctx context.Context) (string, *poll.Status, error) {
				atomic.AddInt32(&submits, 1)
				return "task-1", nil, nil
			},
			func(ctx context.Context, taskID string) (poll.Status, error) {
				// 两个轮询周期后完成
				if atomic.AddInt32(&checks, 1) < 2 {
					return poll.InProgress(), nil
				}
				return poll.Succeeded(json.RawMessage(`{"audio_url":"https://cdn/same.mp3"}`)), nil
			},
			poll.Config{MaxAttempts: 10, Interval: 10 * time.Millisecond},
		)
	}

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = run()
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits), "等价并发调用只允许一次后端提交")
	assert.JSONEq(t, string(results[0]), string(results[1]), "两个调用必须拿到同一终态结果")
}

func TestExecute_InlineTerminalShortCircuit(t *testing.T) {
	co := newTestCoordinator(t)
	var checks int32

	inline := poll.Succeeded(json.RawMessage(`{"text":"hello"}`))
	start := time.Now()
	payload, err := co.Execute(context.Background(), "transcribe", testDigest(t, "inline"),
		func(ctx context.Context) (string, *poll.Status, error) {
			return "task-1", &inline, nil
		},
		func(ctx context.Context, taskID string) (poll.Status, error) {
			atomic.AddInt32(&checks, 1)
			return poll.InProgress(), nil
		},
		poll.Config{MaxAttempts: 10, Interval: 5 * time.Second},
	)

	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, string(payload))
	assert.Zero(t, atomic.LoadInt32(&checks), "内联终态不应触发状态请求")
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestExecute_SubmitFailureReleasesReservation(t *testing.T) {
	co := newTestCoordinator(t)
	fp := testDigest(t, "flaky")

	_, err := co.Execute(context.Background(), "image", fp,
		func(ctx context.Context) (string, *poll.Status, error) {
			return "", nil, types.NewError(types.ErrTransientNetwork, "connect refused").WithRetryable(true)
		},
		nil,
		poll.Config{},
	)
	require.Error(t, err)

	// 预约必须已释放：下一次调用重新拿到提交权
	var submits int32
	_, err = co.Execute(context.Background(), "image", fp,
		func(ctx context.Context) (string, *poll.Status, error) {
			atomic.AddInt32(&submits, 1)
			return "task-2", nil, nil
		},
		func(ctx context.Context, taskID string) (poll.Status, error) {
			return poll.Succeeded(json.RawMessage(`{}`)), nil
		},
		poll.Config{MaxAttempts: 3, Interval: time.Millisecond},
	)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits))
}

func TestExecute_FailureStopsDedup(t *testing.T) {
	co := newTestCoordinator(t)
	fp := testDigest(t, "failing")

	_, err := co.Execute(context.Background(), "speech", fp,
		func(ctx context.Context) (string, *poll.Status, error) {
			return "task-1", nil, nil
		},
		func(ctx context.Context, taskID string) (poll.Status, error) {
			return poll.Failed(types.NewError(types.ErrTaskFailed, "bad voice")), nil
		},
		poll.Config{MaxAttempts: 3, Interval: time.Millisecond},
	)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTaskFailed))

	// 终态回写后该指纹不再被视为活跃
	_, ok := co.Registry().FindActive(fp)
	assert.False(t, ok)
}

func TestExecute_CancelledBeforeSubmission(t *testing.T) {
	co := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var submits int32
	_, err := co.Execute(ctx, "speech", testDigest(t, "cancelled"),
		func(ctx context.Context) (string, *poll.Status, error) {
			atomic.AddInt32(&submits, 1)
			return "task-1", nil, nil
		},
		nil,
		poll.Config{},
	)

	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
	assert.Zero(t, atomic.LoadInt32(&submits), "取消后不得发起提交")
}

func TestExecute_AttachedCallerSeesFailure(t *testing.T) {
	co := newTestCoordinator(t)
	fp := testDigest(t, "shared-failure")

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	var primaryErr error
	go func() {
		defer wg.Done()
		_, primaryErr = co.Execute(context.Background(), "speech", fp,
			func(ctx context.Context) (string, *poll.Status, error) {
				return "task-1", nil, nil
			},
			func(ctx context.Context, taskID string) (poll.Status, error) {
				<-release
				return poll.Failed(types.NewError(types.ErrTaskFailed, "backend exploded")), nil
			},
			poll.Config{MaxAttempts: 3, Interval: time.Millisecond},
		)
	}()

	// 等主调用完成预约后再挂靠
	require.Eventually(t, func() bool {
		_, ok := co.Registry().FindActive(fp)
		return ok
	}, time.Second, time.Millisecond)

	wg.Add(1)
	var attachedErr error
	go func() {
		defer wg.Done()
		_, attachedErr = co.Execute(context.Background(), "speech", fp,
			func(ctx context.Context) (string, *poll.Status, error) {
				t.Error("attached caller must not submit")
				return "", nil, errors.New("unreachable")
			},
			nil,
			poll.Config{},
		)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.True(t, types.IsErrorCode(primaryErr, types.ErrTaskFailed))
	assert.True(t, types.IsErrorCode(attachedErr, types.ErrTaskFailed))
}

func TestExecuteTyped_DecodesTerminalPayload(t *testing.T) {
	type audioResult struct {
		AudioURL string `json:"audio_url"`
	}
	co := newTestCoordinator(t)

	art, err := ExecuteTyped[audioResult](context.Background(), co, "speech", testDigest(t, "typed"),
		func(ctx context.Context) (string, *poll.Status, error) {
			return "task-typed", nil, nil
		},
		func(ctx context.Context, taskID string) (poll.Status, error) {
			return poll.Succeeded(json.RawMessage(`{"audio_url":"https://cdn/a.mp3"}`)), nil
		},
		poll.Config{MaxAttempts: 3, Interval: time.Millisecond},
	)

	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.mp3", art.AudioURL)
}

func TestExecuteTyped_DecodeError(t *testing.T) {
	co := newTestCoordinator(t)

	_, err := ExecuteTyped[struct {
		N int `json:"n"`
	}](context.Background(), co, "timing", testDigest(t, "typed-bad"),
		func(ctx context.Context) (string, *poll.Status, error) {
			return "task-typed-bad", nil, nil
		},
		func(ctx context.Context, taskID string) (poll.Status, error) {
			return poll.Succeeded(json.RawMessage(`{"n":"not-a-number"}`)), nil
		},
		poll.Config{MaxAttempts: 3, Interval: time.Millisecond},
	)

	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTaskFailed))
}
