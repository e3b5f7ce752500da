package image

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/media"
	"github.com/BaSui01/sceneflow/media/fingerprint"
	"github.com/BaSui01/sceneflow/media/poll"
	"github.com/BaSui01/sceneflow/media/transport"
	"github.com/BaSui01/sceneflow/types"
)

// Capability 在指纹、指标与日志中标识本后端。
const Capability = "image"

// Endpoint: POST /v1/image/sessions, GET /v1/image/result/{id}
// Auth: Authorization: Bearer header
// Note: the result endpoint answers HTTP 400 while the session is not
// ready yet; that is "in progress", not a client error.
const (
	submitPath = "/v1/image/sessions"
	resultPath = "/v1/image/result/"
)

// Client是幻灯片图像后端的生成客户端.
type Client struct {
	cfg    Config
	co     *media.Coordinator
	http   *transport.Client
	logger *zap.Logger
}

// NewClient创建了图像生成客户端.
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
		logger: logger.With(zap.String("component", "image")),
	}, nil
}

type submitRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style,omitempty"`
	Seed        int64  `json:"seed,omitempty"`
}

type submitResponse struct {
	SessionID string `json:"session_id"`
}

// resultResponse 是结果端点的 200 响应形态，success 标记终态方向。
type resultResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Generate 生成一张幻灯片图像。
func (c *Client) Generate(ctx context.Context, req *ImageRequest) (*ImageArtifact, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	fp, err := fingerprint.Compute(req.Prompt, []fingerprint.Param{
		{Key: "capability", Value: Capability},
		{Key: "aspect_ratio", Value: req.AspectRatio},
		{Key: "style", Value: req.Style},
		{Key: "seed", Value: strconv.FormatInt(req.Seed, 10)},
	})
	if err != nil {
		return nil, err
	}

	art, err := media.ExecuteTyped[ImageArtifact](ctx, c.co, Capability, fp, c.submit(req), c.check, poll.Config{
		MaxAttempts:       c.cfg.MaxAttempts,
		Interval:          c.cfg.PollInterval,
		BackoffMultiplier: c.cfg.BackoffMultiplier,
	})
	if err != nil {
		return nil, err
	}
	if art.ImageURL == "" {
		return nil, types.NewError(types.ErrTaskFailed, "image result missing image_url").
			WithBackend(Capability)
	}
	return art, nil
}

func (c *Client) submit(req *ImageRequest) media.SubmitFunc {
	return func(ctx context.Context) (string, *poll.Status, error) {
		var out submitResponse
		err := c.http.PostJSON(ctx, submitPath, submitRequest{
			Prompt:      req.Prompt,
			AspectRatio: req.AspectRatio,
			Style:       req.Style,
			Seed:        req.Seed,
		}, &out)
		if err != nil {
			return "", nil, err
		}
		if out.SessionID == "" {
			return "", nil, types.NewError(types.ErrTaskFailed, "backend returned no session id")
		}
		// 该后端从不内联结果，必须走结果端点
		return out.SessionID, nil, nil
	}
}

func (c *Client) check(ctx context.Context, sessionID string) (poll.Status, error) {
	var out resultResponse
	if err := c.http.GetJSON(ctx, resultPath+sessionID, &out); err != nil {
		serr := types.AsError(err)
		// 该后端用 HTTP 400 表示"尚未就绪"
		if serr.HTTPStatus == http.StatusBadRequest {
			return poll.InProgress(), nil
		}
		if !serr.Retryable && serr.HTTPStatus >= 400 {
			return poll.Failed(serr), nil
		}
		return poll.Status{}, err
	}

	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "image generation failed"
		}
		return poll.Failed(types.NewError(types.ErrTaskFailed, msg)), nil
	}
	if len(out.Result) == 0 {
		return poll.Failed(types.NewError(types.ErrTaskFailed, "success without result payload")), nil
	}
	return poll.Succeeded(out.Result), nil
}
