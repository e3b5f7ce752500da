// 软件包image是幻灯片图像生成后端的能力客户端.
package image

import (
	"strings"

	"github.com/BaSui01/sceneflow/types"
)

// maxPromptLen 单次生成提示词的长度上限。
const maxPromptLen = 2000

// DefaultAspectRatio 幻灯片默认使用宽屏画幅。
const DefaultAspectRatio = "16:9"

// 后端支持的画幅比例。
var validAspectRatios = map[string]struct{}{
	"1:1":  {},
	"16:9": {},
	"9:16": {},
	"4:3":  {},
	"3:4":  {},
}

// ImageRequest代表一次幻灯片图像生成请求.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"` // 1:1, 16:9, 9:16, 4:3, 3:4
	Style       string `json:"style,omitempty"`        // e.g. "flat illustration"
	Seed        int64  `json:"seed,omitempty"`
}

// normalize 校验请求并填充默认值。
func (r *ImageRequest) normalize() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return types.NewError(types.ErrInvalidArgument, "image prompt is required")
	}
	if len(r.Prompt) > maxPromptLen {
		return types.NewError(types.ErrInvalidArgument, "image prompt exceeds length ceiling")
	}
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
	if _, ok := validAspectRatios[r.AspectRatio]; !ok {
		return types.NewError(types.ErrInvalidArgument, "unsupported aspect ratio: "+r.AspectRatio)
	}
	return nil
}

// ImageArtifact是一次图像生成的产物.
type ImageArtifact struct {
	ImageURL string `json:"image_url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Seed     int64  `json:"seed,omitempty"`
}
