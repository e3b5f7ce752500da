package speech

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
const Capability = "speech"

// Endpoint: POST /v1/tts/generate, GET /v1/tts/task/{id}
// Auth: X-API-Key header
const (
	submitPath = "/v1/tts/generate"
	taskPath   = "/v1/tts/task/"
)

// Client是TTS旁白后端的生成客户端.
type Client struct {
	cfg    Config
	co     *media.Coordinator
	http   *transport.Client
	logger *zap.Logger
}

// NewClient创建了TTS旁白客户端.
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
		logger: logger.With(zap.String("component", "speech")),
	}, nil
}

type submitRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	Language     string `json:"language"`
	Instructions string `json:"instructions,omitempty"`
}

// taskResponse 是提交与状态端点共用的响应形态。
// status: pending, processing, completed, failed
type taskResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Generate 生成一段旁白音频。等价请求（同文本同参数）并发到达时
// 只提交一次后端任务，所有调用共享同一终态结果。
func (c *Client) Generate(ctx context.Context, req *TTSRequest) (*AudioArtifact, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	fp, err := fingerprint.Compute(req.Text, []fingerprint.Param{
		{Key: "capability", Value: Capability},
		{Key: "voice", Value: req.Voice},
		{Key: "language", Value: req.Language},
		{Key: "instructions", Value: req.Instructions},
	})
	if err != nil {
		return nil, err
	}

	art, err := media.ExecuteTyped[AudioArtifact](ctx, c.co, Capability, fp, c.submit(req), c.check, poll.Config{
		MaxAttempts:       c.cfg.MaxAttempts,
		Interval:          c.cfg.PollInterval,
		BackoffMultiplier: c.cfg.BackoffMultiplier,
	})
	if err != nil {
		return nil, err
	}
	if art.AudioURL == "" {
		return nil, types.NewError(types.ErrTaskFailed, "tts result missing audio_url").
			WithBackend(Capability)
	}
	return art, nil
}

func (c *Client) submit(req *TTSRequest) media.SubmitFunc {
	return func(ctx context.Context) (string, *poll.Status, error) {
		var out taskResponse
		err := c.http.PostJSON(ctx, submitPath, submitRequest{
			Text:         req.Text,
			Voice:        req.Voice,
			Language:     req.Language,
			Instructions: req.Instructions,
		}, &out)
		if err != nil {
			return "", nil, err
		}
		if out.TaskID == "" {
			return "", nil, types.NewError(types.ErrTaskFailed, "backend returned no task id")
		}
		// 该后端可能把终态结果内联在提交响应里
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

// normalizeStatus 把后端状态字符串归一化为执行器四态。
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
			msg = "tts generation failed"
		}
		return poll.Failed(types.NewError(types.ErrTaskFailed, msg)), true
	default:
		// pending, processing
		return poll.InProgress(), false
	}
}
