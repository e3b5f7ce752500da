package transcribe

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
const Capability = "transcribe"

// Endpoint: POST /v1/transcribe/generate, GET /v1/transcribe/task/{id}
// Auth: BACKEND-API-KEY header
// Note: short clips usually complete inline in the submission response.
const (
	submitPath = "/v1/transcribe/generate"
	taskPath   = "/v1/transcribe/task/"
)

// Client是音频转写后端的生成客户端.
type Client struct {
	cfg    Config
	co     *media.Coordinator
	http   *transport.Client
	logger *zap.Logger
}

// NewClient创建了音频转写客户端.
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
		logger: logger.With(zap.String("component", "transcribe")),
	}, nil
}

type submitRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type taskResponse struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Transcribe 转写一段音频。短音频通常在提交响应里直接携带结果，
// 走零迭代短路路径。
func (c *Client) Transcribe(ctx context.Context, req *TranscribeRequest) (*Transcript, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	fp, err := fingerprint.Compute(req.AudioURL, []fingerprint.Param{
		{Key: "capability", Value: Capability},
		{Key: "language", Value: req.Language},
		{Key: "prompt", Value: req.Prompt},
	})
	if err != nil {
		return nil, err
	}

	return media.ExecuteTyped[Transcript](ctx, c.co, Capability, fp, c.submit(req), c.check, poll.Config{
		MaxAttempts:       c.cfg.MaxAttempts,
		Interval:          c.cfg.PollInterval,
		BackoffMultiplier: c.cfg.BackoffMultiplier,
	})
}

func (c *Client) submit(req *TranscribeRequest) media.SubmitFunc {
	return func(ctx context.Context) (string, *poll.Status, error) {
		var out taskResponse
		err := c.http.PostJSON(ctx, submitPath, submitRequest{
			AudioURL: req.AudioURL,
			Language: req.Language,
			Prompt:   req.Prompt,
		}, &out)
		if err != nil {
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
			msg = "transcription failed"
		}
		return poll.Failed(types.NewError(types.ErrTaskFailed, msg)), true
	default:
		return poll.InProgress(), false
	}
}
