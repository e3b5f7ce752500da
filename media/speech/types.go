// 软件包speech是TTS旁白后端的能力客户端.
package speech

import (
	"strings"

	"github.com/BaSui01/sceneflow/types"
)

// maxTextLen 单次旁白请求的文本上限。
const maxTextLen = 5000

// DefaultVoice 未指定声音时使用的默认旁白声音。
const DefaultVoice = "zephyr"

// 后端支持的声音 id。
var validVoices = map[string]struct{}{
	"zephyr": {},
	"puck":   {},
	"charon": {},
	"kore":   {},
	"fenrir": {},
	"aoede":  {},
}

// 后端支持的语言代码（ISO-639-1）。
var validLanguages = map[string]struct{}{
	"en": {}, "zh": {}, "es": {}, "fr": {}, "de": {},
	"ja": {}, "ko": {}, "pt": {}, "it": {}, "ru": {},
}

// TTSRequest代表一次旁白生成请求.
type TTSRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice,omitempty"`        // zephyr, puck, charon, kore, fenrir, aoede
	Language     string `json:"language,omitempty"`     // ISO-639-1 code
	Instructions string `json:"instructions,omitempty"` // Style hint, e.g. "calm documentary tone"
}

// normalize 校验请求并填充默认值。校验失败是终态错误，
// 不触碰注册表也不发起网络调用。
func (r *TTSRequest) normalize() error {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return types.NewError(types.ErrInvalidArgument, "tts text is required")
	}
	if len(r.Text) > maxTextLen {
		return types.NewError(types.ErrInvalidArgument, "tts text exceeds length ceiling")
	}
	if r.Voice == "" {
		r.Voice = DefaultVoice
	}
	if _, ok := validVoices[r.Voice]; !ok {
		return types.NewError(types.ErrInvalidArgument, "unsupported voice: "+r.Voice)
	}
	if r.Language == "" {
		r.Language = "en"
	}
	if _, ok := validLanguages[r.Language]; !ok {
		return types.NewError(types.ErrInvalidArgument, "unsupported language: "+r.Language)
	}
	return nil
}

// AudioArtifact是一次旁白生成的产物.
type AudioArtifact struct {
	AudioURL        string  `json:"audio_url"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Format          string  `json:"format,omitempty"` // mp3, wav
}
