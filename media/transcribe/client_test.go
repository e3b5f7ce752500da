package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/sceneflow/media"
	"github.com/BaSui01/sceneflow/media/task"
	"github.com/BaSui01/sceneflow/media/transport"
	"github.com/BaSui01/sceneflow/types"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	registry := task.New(task.Config{}, zap.NewNop())
	t.Cleanup(registry.Shutdown)
	co := media.NewCoordinator(registry, zap.NewNop())
	client, err := NewClient(Config{
		Backend: transport.Config{
			BaseURL:    baseURL,
			APIKey:     "test-key",
			AuthStyle:  transport.AuthCustomHeader,
			AuthHeader: authHeader,
		},
		MaxAttempts:  20,
		PollInterval: 5 * time.Millisecond,
	}, co, zap.NewNop())
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestTranscribe_InlineCompletion(t *testing.T) {
	// 短音频：提交响应直接携带终态结果，不触发状态端点
	var submits, polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcribe/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("BACKEND-API-KEY"))
		atomic.AddInt32(&submits, 1)
		writeJSON(t, w, map[string]any{
			"task_id": "trx-1",
			"status":  "completed",
			"result": map[string]any{
				"text":     "hello world",
				"language": "en",
				"segments": []map[string]any{{"start": 0.0, "end": 1.4, "text": "hello world"}},
			},
		})
	})
	mux.HandleFunc("GET /v1/transcribe/task/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		writeJSON(t, w, map[string]any{"task_id": "trx-1", "status": "processing"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	start := time.Now()
	tr, err := client.Transcribe(context.Background(), &TranscribeRequest{
		AudioURL: "https://cdn.example.com/narration.mp3",
	})

	require.NoError(t, err)
	assert.Equal(t, "hello world", tr.Text)
	assert.Len(t, tr.Segments, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&submits))
	assert.Zero(t, atomic.LoadInt32(&polls), "内联完成不应触发状态查询")
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestTranscribe_TwoPhase(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcribe/generate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"task_id": "trx-2", "status": "pending"})
	})
	mux.HandleFunc("GET /v1/transcribe/task/", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			writeJSON(t, w, map[string]any{"task_id": "trx-2", "status": "processing"})
			return
		}
		writeJSON(t, w, map[string]any{
			"task_id": "trx-2",
			"status":  "completed",
			"result":  map[string]any{"text": "longer recording"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	tr, err := client.Transcribe(context.Background(), &TranscribeRequest{
		AudioURL: "https://cdn.example.com/long.mp3",
	})

	require.NoError(t, err)
	assert.Equal(t, "longer recording", tr.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&polls))
}

func TestTranscribe_Validation(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid")

	tests := []struct {
		name string
		req  *TranscribeRequest
	}{
		{"empty url", &TranscribeRequest{}},
		{"not a url", &TranscribeRequest{AudioURL: "narration.mp3"}},
		{"bad language", &TranscribeRequest{AudioURL: "https://x.example.com/a.mp3", Language: "english"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Transcribe(context.Background(), tt.req)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidArgument))
		})
	}
}

func TestTranscribe_BackendFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transcribe/generate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"task_id": "trx-3", "status": "failed", "error": "audio format not supported"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Transcribe(context.Background(), &TranscribeRequest{
		AudioURL: "https://cdn.example.com/bad.ogg",
	})

	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrTaskFailed))
	assert.Contains(t, err.Error(), "audio format not supported")
}
