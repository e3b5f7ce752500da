package timing

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/media"
	"github.com/BaSui01/sceneflow/media/fingerprint"
	"github.com/BaSui01/sceneflow/media/poll"
	"github.com/BaSui01/sceneflow/media/transport"
	"github.com/BaSui01/sceneflow/types"
)

// Capability 在指纹、指标与日志中标识本后端。
const Capability = "timing"

// Endpoint: POST /v1/timing/generate, GET /v1/timing/task/{id}
// Auth: X-API-Key header
// Note: result payload drifted across backend versions: current
// responses carry "scene_mappings", legacy ones "scenes".
const (
	submitPath = "/v1/timing/generate"
	taskPath   = "/v1/timing/task/"
)

// Client是时间对齐后端的生成客户端.
type Client struct {
	cfg    Config
	co     *media.Coordinator
	http   *transport.Client
	logger *zap.Logger
}

// NewClient创建了时间对齐客户端.
func NewClient(cfg Config, co *media.Coordinator, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()
	httpc, err := transport.New(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		co:     co,
		http:   httpc,
		logger: logger.With(zap.String("component", "timing")),
	}, nil
}

type taskResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// timingResult 同时接受两代响应形态。
type timingResult struct {
	SceneMappings []SceneMapping `json:"scene_mappings"`
	Scenes        []SceneMapping `json:"scenes"` // legacy field name
}

// Align 把场景文本对齐到旁白音轨，产出每个场景的时间区间。
// 这是预算最长的能力（约 15 分钟墙钟）。
func (c *Client) Align(ctx context.Context, req *TimingRequest) (*Timeline, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	params := make([]fingerprint.Param, 0, len(req.Scenes)+1)
	params = append(params, fingerprint.Param{Key: "capability", Value: Capability})
	for _, s := range req.Scenes {
		params = append(params, fingerprint.Param{Key: "scene:" + s.SceneID, Value: s.Text})
	}

	fp, err := fingerprint.Compute(req.AudioURL, params)
	if err != nil {
		return nil, err
	}

	res, err := media.ExecuteTyped[timingResult](ctx, c.co, Capability, fp, c.submit(req), c.check, poll.Config{
		MaxAttempts:       c.cfg.MaxAttempts,
		Interval:          c.cfg.PollInterval,
		BackoffMultiplier: c.cfg.BackoffMultiplier,
	})
	if err != nil {
		return nil, err
	}
	mappings := res.SceneMappings
	if len(mappings) == 0 {
		mappings = res.Scenes
	}
	if len(mappings) == 0 {
		return nil, types.NewError(types.ErrTaskFailed, "timing result carries no scene mappings").
			WithBackend(Capability)
	}
	return &Timeline{SceneMappings: mappings}, nil
}

func (c *Client) submit(req *TimingRequest) media.SubmitFunc {
	return func(ctx context.Context) (string, *poll.Status, error) {
		var out taskResponse
		if err := c.http.PostJSON(ctx, submitPath, req, &out); err != nil {
			return "", nil, err
		}
		if out.TaskID == "" {
			return "", nil, types.NewError(types.ErrTaskFailed, "backend returned no task id")
		}
		if st, terminal := normalizeStatus(&out); terminal {
			return out.TaskID, &st, nil
		}
		return out.TaskID, nil, nil
	}
}

func (c *Client) check(ctx context.Context, taskID string) (poll.Status, error) {
	var out taskResponse
	if err := c.http.GetJSON(ctx, taskPath+taskID, &out); err != nil {
		// 状态端点的应用级 4xx 是终态，不是瞬时故障
		if serr := types.AsError(err); !serr.Retryable && serr.HTTPStatus >= 400 {
			return poll.Failed(serr), nil
		}
		return poll.Status{}, err
	}
	st, _ := normalizeStatus(&out)
	return st, nil
}

func normalizeStatus(resp *taskResponse) (poll.Status, bool) {
	switch resp.Status {
	case "completed":
		if len(resp.Result) == 0 {
			return poll.Failed(types.NewError(types.ErrTaskFailed, "completed without result payload")), true
		}
		return poll.Succeeded(resp.Result), true
	case "failed":
		msg := resp.Error
		if msg == "" {
			msg = "timing alignment failed"
		}
		return poll.Failed(types.NewError(types.ErrTaskFailed, msg)), true
	default:
		return poll.InProgress(), false
	}
}
