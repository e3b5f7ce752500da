// Package pipeline 把各生成后端编排为多阶段视频制作流水线：
// 脚本规划 → 每场景幻灯片与旁白（并发）→ 整轨旁白与时间对齐 → 产物清单。
package pipeline

import (
	"context"
	"strings"

	"github.com/BaSui01/sceneflow/types"
)

// ScenePlan是脚本中的一个场景.
type ScenePlan struct {
	SceneID     string `json:"scene_id" yaml:"scene_id"`
	Narration   string `json:"narration" yaml:"narration"`
	SlidePrompt string `json:"slide_prompt" yaml:"slide_prompt"`
}

// Script是一份完整的制作脚本.
type Script struct {
	Title  string      `json:"title" yaml:"title"`
	Voice  string      `json:"voice,omitempty" yaml:"voice,omitempty"`
	Scenes []ScenePlan `json:"scenes" yaml:"scenes"`
}

// Validate 校验脚本形状。
func (s *Script) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return types.NewError(types.ErrInvalidArgument, "script title is required")
	}
	if len(s.Scenes) == 0 {
		return types.NewError(types.ErrInvalidArgument, "script has no scenes")
	}
	seen := make(map[string]struct{}, len(s.Scenes))
	for i := range s.Scenes {
		sc := &s.Scenes[i]
		if strings.TrimSpace(sc.SceneID) == "" {
			return types.NewError(types.ErrInvalidArgument, "scene without scene_id")
		}
		if _, dup := seen[sc.SceneID]; dup {
			return types.NewError(types.ErrInvalidArgument, "duplicate scene_id: "+sc.SceneID)
		}
		seen[sc.SceneID] = struct{}{}
		if strings.TrimSpace(sc.Narration) == "" {
			return types.NewError(types.ErrInvalidArgument, "scene without narration: "+sc.SceneID)
		}
		if strings.TrimSpace(sc.SlidePrompt) == "" {
			return types.NewError(types.ErrInvalidArgument, "scene without slide_prompt: "+sc.SceneID)
		}
	}
	return nil
}

// Planner 把创作意图规划为制作脚本。
// 脚本规划（LLM 回合）是外部协作方，流水线只依赖这一接口。
type Planner interface {
	Plan(ctx context.Context, brief string) (*Script, error)
}

// StaticPlanner 直接返回预先写好的脚本，不触发任何 LLM 调用。
// 用于脚本已人工定稿的制作，以及测试。
type StaticPlanner struct {
	Script *Script
}

// Plan implements Planner.
func (p *StaticPlanner) Plan(_ context.Context, _ string) (*Script, error) {
	if p.Script == nil {
		return nil, types.NewError(types.ErrInvalidArgument, "static planner has no script")
	}
	if err := p.Script.Validate(); err != nil {
		return nil, err
	}
	return p.Script, nil
}
