// 软件包transcribe是音频转写后端的能力客户端.
package transcribe

import (
	"strings"

	"github.com/BaSui01/sceneflow/types"
)

// TranscribeRequest代表一次音频转写请求.
type TranscribeRequest struct {
	AudioURL string `json:"audio_url"`
	Language string `json:"language,omitempty"` // ISO-639-1 code, empty = auto-detect
	Prompt   string `json:"prompt,omitempty"`   // Context hint
}

// normalize 校验请求。转写后端自动检测语言，language 只做形状校验。
func (r *TranscribeRequest) normalize() error {
	r.AudioURL = strings.TrimSpace(r.AudioURL)
	if r.AudioURL == "" {
		return types.NewError(types.ErrInvalidArgument, "audio_url is required")
	}
	if !strings.HasPrefix(r.AudioURL, "http://") && !strings.HasPrefix(r.AudioURL, "https://") {
		return types.NewError(types.ErrInvalidArgument, "audio_url must be an http(s) URL")
	}
	if r.Language != "" && len(r.Language) != 2 {
		return types.NewError(types.ErrInvalidArgument, "language must be an ISO-639-1 code")
	}
	return nil
}

// Segment是一段带时间的转写文本.
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript是一次转写的产物.
type Transcript struct {
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}
