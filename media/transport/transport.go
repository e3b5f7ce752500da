// Package transport 是生成后端共用的 HTTP 客户端。
//
// 各后端只在鉴权头风格、限流额度与超时上不同；请求编解码、
// 瞬时/终态错误分类与提交限流收敛在这里，能力适配器不再各写一份。
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/sceneflow/internal/tlsutil"
	"github.com/BaSui01/sceneflow/types"
)

// AuthStyle 是后端的鉴权头风格。
type AuthStyle string

const (
	// AuthAPIKey X-API-Key 头
	AuthAPIKey AuthStyle = "api_key"
	// AuthBearer Authorization: Bearer 头
	AuthBearer AuthStyle = "bearer"
	// AuthCustomHeader 自定义头名（Config.AuthHeader）
	AuthCustomHeader AuthStyle = "custom"
)

// maxErrBody 限制错误响应体在错误信息中的长度。
const maxErrBody = 512

// Config 配置一个后端连接。
type Config struct {
	// BaseURL 后端根地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// APIKey 鉴权密钥
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// AuthStyle 鉴权头风格: api_key, bearer, custom
	AuthStyle AuthStyle `yaml:"auth_style" env:"AUTH_STYLE"`
	// AuthHeader 自定义鉴权头名（AuthStyle=custom 时必填）
	AuthHeader string `yaml:"auth_header" env:"AUTH_HEADER"`
	// Timeout 单次 HTTP 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RateLimitRPS 每秒请求数上限（0 表示不限流）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst 突发额度
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CACert 自定义 CA 证书路径（PEM），私有化部署的后端用
	CACert string `yaml:"ca_cert" env:"CA_CERT"`
	// ClientCert 双向认证客户端证书路径（PEM），须与 ClientKey 成对
	ClientCert string `yaml:"client_cert" env:"CLIENT_CERT"`
	// ClientKey 客户端私钥路径（PEM）
	ClientKey string `yaml:"client_key" env:"CLIENT_KEY"`
}

// Client 是单个后端的 HTTP 客户端。并发安全。
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New 创建后端客户端。TLS 材料（CACert/ClientCert/ClientKey）无法装载时报错。
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.AuthStyle == "" {
		cfg.AuthStyle = AuthAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient, err := tlsutil.NewHTTPClient(cfg.Timeout, tlsutil.Options{
		CACertFile:     cfg.CACert,
		ClientCertFile: cfg.ClientCert,
		ClientKeyFile:  cfg.ClientKey,
	})
	if err != nil {
		return nil, types.NewError(types.ErrInvalidArgument, "backend TLS config").WithCause(err)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "transport")),
	}, nil
}

// PostJSON 发送 JSON POST 并解码响应到 out。
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.NewError(types.ErrInvalidArgument, "encode request body").WithCause(err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

// GetJSON 发送 GET 并解码响应到 out。
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do 执行一次请求并按统一规则分类错误：
//   - 网络错误 / 429 / 5xx → TRANSIENT_NETWORK（可重试），由轮询执行器退避；
//   - 其余 4xx → TASK_FAILED（不可重试），保留 HTTP 状态码与响应体，
//     让能力适配器识别"400 表示未就绪"这类后端私有约定；
//   - 取消 → CANCELLED。
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return types.NewError(types.ErrCancelled, "rate limit wait interrupted").WithCause(err)
		}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return types.NewError(types.ErrInvalidArgument, "build request").WithCause(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrCancelled, "request cancelled").WithCause(ctx.Err())
		}
		return types.NewError(types.ErrTransientNetwork, fmt.Sprintf("%s %s failed", method, path)).
			WithRetryable(true).
			WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		msg := fmt.Sprintf("backend error: status=%d body=%s", resp.StatusCode, string(errBody))

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return types.NewError(types.ErrTransientNetwork, msg).
				WithHTTPStatus(resp.StatusCode).
				WithRetryable(true)
		}
		return types.NewError(types.ErrTaskFailed, msg).
			WithHTTPStatus(resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrTaskFailed, "decode backend response").WithCause(err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	switch c.cfg.AuthStyle {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	case AuthCustomHeader:
		header := c.cfg.AuthHeader
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, c.cfg.APIKey)
	default:
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
}
