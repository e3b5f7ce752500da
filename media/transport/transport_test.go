package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/types"
)

func TestClient_AuthStyles(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantHeader string
		wantValue  string
	}{
		{
			name:       "default api key header",
			cfg:        Config{APIKey: "k1"},
			wantHeader: "X-API-Key",
			wantValue:  "k1",
		},
		{
			name:       "bearer",
			cfg:        Config{APIKey: "k2", AuthStyle: AuthBearer},
			wantHeader: "Authorization",
			wantValue:  "Bearer k2",
		},
		{
			name:       "custom header",
			cfg:        Config{APIKey: "k3", AuthStyle: AuthCustomHeader, AuthHeader: "BACKEND-API-KEY"},
			wantHeader: "BACKEND-API-KEY",
			wantValue:  "k3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tt.wantHeader)
				_, _ = w.Write([]byte(`{}`))
			}))
			defer srv.Close()

			tt.cfg.BaseURL = srv.URL
			c, cerr := New(tt.cfg, zap.NewNop())
			require.NoError(t, cerr)

			var out map[string]any
			require.NoError(t, c.GetJSON(context.Background(), "/v1/ping", &out))
			assert.Equal(t, tt.wantValue, got)
		})
	}
}

func TestClient_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tts/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"task_id":"task-1"}`))
	}))
	defer srv.Close()

	c, cerr := New(Config{BaseURL: srv.URL, APIKey: "k"}, zap.NewNop())
	require.NoError(t, cerr)

	var out struct {
		TaskID string `json:"task_id"`
	}
	err := c.PostJSON(context.Background(), "/v1/tts/generate", map[string]string{"text": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "task-1", out.TaskID)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantCode      types.ErrorCode
		wantRetryable bool
	}{
		{name: "500 is transient", status: 500, wantCode: types.ErrTransientNetwork, wantRetryable: true},
		{name: "503 is transient", status: 503, wantCode: types.ErrTransientNetwork, wantRetryable: true},
		{name: "429 is transient", status: 429, wantCode: types.ErrTransientNetwork, wantRetryable: true},
		{name: "400 is terminal with status preserved", status: 400, wantCode: types.ErrTaskFailed},
		{name: "404 is terminal", status: 404, wantCode: types.ErrTaskFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c, cerr := New(Config{BaseURL: srv.URL}, zap.NewNop())
			require.NoError(t, cerr)
			err := c.GetJSON(context.Background(), "/v1/x", nil)
			require.Error(t, err)

			var se *types.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.status, se.HTTPStatus)
			assert.Equal(t, tt.wantRetryable, se.Retryable)
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 立刻关掉，强制连接失败

	c, cerr := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, cerr)
	err := c.GetJSON(context.Background(), "/v1/x", nil)
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.True(t, types.IsErrorCode(err, types.ErrTransientNetwork))
}

func TestClient_CancelledRequest(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c, cerr := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, cerr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := c.GetJSON(ctx, "/v1/x", nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
}

func TestClient_RateLimiterAppliesBackpressure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// 10 RPS，burst 1：三次连续请求至少需要 ~200ms
	c, cerr := New(Config{BaseURL: srv.URL, RateLimitRPS: 10, RateLimitBurst: 1}, zap.NewNop())
	require.NoError(t, cerr)

	start := time.Now()
	for i := 0; i < 3; i++ {
		var out map[string]any
		require.NoError(t, c.GetJSON(context.Background(), "/v1/x", &out))
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_MalformedResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c, cerr := New(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, cerr)
	var out map[string]any
	err := c.GetJSON(context.Background(), "/v1/x", &out)
	assert.True(t, types.IsErrorCode(err, types.ErrTaskFailed))
}

func TestNew_BadTLSMaterial(t *testing.T) {
	_, err := New(Config{BaseURL: "https://backend", CACert: "/nonexistent/ca.pem"}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))
}
