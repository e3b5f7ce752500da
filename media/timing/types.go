// 软件包timing是场景-音频时间对齐后端的能力客户端.
package timing

import (
	"strings"

	"github.com/BaSui01/sceneflow/types"
)

// maxScenes 单次对齐请求的场景数上限。
const maxScenes = 200

// SceneText是一个待对齐的场景文本.
type SceneText struct {
	SceneID string `json:"scene_id"`
	Text    string `json:"text"`
}

// TimingRequest代表一次场景-音频对齐请求.
type TimingRequest struct {
	AudioURL string      `json:"audio_url"`
	Scenes   []SceneText `json:"scenes"`
}

// normalize 校验请求。
func (r *TimingRequest) normalize() error {
	r.AudioURL = strings.TrimSpace(r.AudioURL)
	if r.AudioURL == "" {
		return types.NewError(types.ErrInvalidArgument, "audio_url is required")
	}
	if !strings.HasPrefix(r.AudioURL, "http://") && !strings.HasPrefix(r.AudioURL, "https://") {
		return types.NewError(types.ErrInvalidArgument, "audio_url must be an http(s) URL")
	}
	if len(r.Scenes) == 0 {
		return types.NewError(types.ErrInvalidArgument, "at least one scene is required")
	}
	if len(r.Scenes) > maxScenes {
		return types.NewError(types.ErrInvalidArgument, "too many scenes")
	}
	seen := make(map[string]struct{}, len(r.Scenes))
	for i := range r.Scenes {
		s := &r.Scenes[i]
		s.SceneID = strings.TrimSpace(s.SceneID)
		s.Text = strings.TrimSpace(s.Text)
		if s.SceneID == "" {
			return types.NewError(types.ErrInvalidArgument, "scene_id is required for every scene")
		}
		if s.Text == "" {
			return types.NewError(types.ErrInvalidArgument, "scene text is required: "+s.SceneID)
		}
		if _, dup := seen[s.SceneID]; dup {
			return types.NewError(types.ErrInvalidArgument, "duplicate scene_id: "+s.SceneID)
		}
		seen[s.SceneID] = struct{}{}
	}
	return nil
}

// SceneMapping是一个场景在音轨上的时间区间.
type SceneMapping struct {
	SceneID string  `json:"scene_id"`
	Start   float64 `json:"start"` // seconds
	End     float64 `json:"end"`
}

// Timeline是一次对齐的产物.
type Timeline struct {
	SceneMappings []SceneMapping `json:"scene_mappings"`
}
