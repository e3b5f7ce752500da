package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/sceneflow/media/image"
	"github.com/BaSui01/sceneflow/media/speech"
	"github.com/BaSui01/sceneflow/media/timing"
	"github.com/BaSui01/sceneflow/media/transcribe"
)

// Narrator 生成旁白音频。由 media/speech 客户端实现。
type Narrator interface {
	Generate(ctx context.Context, req *speech.TTSRequest) (*speech.AudioArtifact, error)
}

// Illustrator 生成幻灯片图像。由 media/image 客户端实现。
type Illustrator interface {
	Generate(ctx context.Context, req *image.ImageRequest) (*image.ImageArtifact, error)
}

// Aligner 对齐场景与音轨。由 media/timing 客户端实现。
type Aligner interface {
	Align(ctx context.Context, req *timing.TimingRequest) (*timing.Timeline, error)
}

// Transcriber 转写音频。由 media/transcribe 客户端实现。
type Transcriber interface {
	Transcribe(ctx context.Context, req *transcribe.TranscribeRequest) (*transcribe.Transcript, error)
}

// ProducedScene是单个场景的制作产物.
type ProducedScene struct {
	SceneID   string                `json:"scene_id"`
	Slide     *image.ImageArtifact  `json:"slide"`
	Narration *speech.AudioArtifact `json:"narration"`
}

// Production是一次完整制作的产物清单.
// 文件落盘由调用方（cmd）负责，流水线只产出清单。
type Production struct {
	Title          string                 `json:"title"`
	Scenes         []ProducedScene        `json:"scenes"`
	NarrationTrack *speech.AudioArtifact  `json:"narration_track"`
	Timeline       *timing.Timeline       `json:"timeline"`
	Subtitles      *transcribe.Transcript `json:"subtitles,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Options 控制流水线行为。
type Options struct {
	// MaxConcurrentScenes 每批并发处理的场景数
	MaxConcurrentScenes int
	// Subtitles 是否转写整轨旁白生成字幕
	Subtitles bool
}

// Producer 驱动一次完整的视频制作。
type Producer struct {
	planner     Planner
	narrator    Narrator
	illustrator Illustrator
	aligner     Aligner
	transcriber Transcriber
	opts        Options
	logger      *zap.Logger
}

// NewProducer 创建流水线。transcriber 可为 nil（禁用字幕阶段）。
func NewProducer(
	planner Planner,
	narrator Narrator,
	illustrator Illustrator,
	aligner Aligner,
	transcriber Transcriber,
	opts Options,
	logger *zap.Logger,
) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConcurrentScenes <= 0 {
		opts.MaxConcurrentScenes = 4
	}
	return &Producer{
		planner:     planner,
		narrator:    narrator,
		illustrator: illustrator,
		aligner:     aligner,
		transcriber: transcriber,
		opts:        opts,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Produce 执行完整流水线：
//
//	规划 → 每场景幻灯片+旁白（errgroup 并发，限流）→
//	整轨旁白 → 场景-音轨对齐 → 可选字幕 → 清单。
//
// 任一场景失败即取消同批其余场景并返回第一个错误。
func (p *Producer) Produce(ctx context.Context, brief string) (*Production, error) {
	script, err := p.planner.Plan(ctx, brief)
	if err != nil {
		return nil, err
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	log := p.logger.With(zap.String("title", script.Title))
	log.Info("production started", zap.Int("scenes", len(script.Scenes)))

	// 阶段一：每场景幻灯片与旁白，场景内两路并发，场景间限流并发
	produced := make([]ProducedScene, len(script.Scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrentScenes)
	for i := range script.Scenes {
		g.Go(func() error {
			scene := script.Scenes[i]
			sg, sctx := errgroup.WithContext(gctx)
			var slide *image.ImageArtifact
			var narration *speech.AudioArtifact
			sg.Go(func() error {
				var err error
				slide, err = p.illustrator.Generate(sctx, &image.ImageRequest{Prompt: scene.SlidePrompt})
				return err
			})
			sg.Go(func() error {
				var err error
				narration, err = p.narrator.Generate(sctx, &speech.TTSRequest{
					Text:  scene.Narration,
					Voice: script.Voice,
				})
				return err
			})
			if err := sg.Wait(); err != nil {
				return err
			}
			produced[i] = ProducedScene{SceneID: scene.SceneID, Slide: slide, Narration: narration}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("scene stage failed", zap.Error(err))
		return nil, err
	}

	// 阶段二：整轨旁白（同一声音朗读全文），供时间对齐与字幕使用
	fullText := joinNarrations(script)
	track, err := p.narrator.Generate(ctx, &speech.TTSRequest{Text: fullText, Voice: script.Voice})
	if err != nil {
		log.Warn("narration track failed", zap.Error(err))
		return nil, err
	}

	// 阶段三：场景-音轨时间对齐
	alignReq := &timing.TimingRequest{AudioURL: track.AudioURL}
	for _, scene := range script.Scenes {
		alignReq.Scenes = append(alignReq.Scenes, timing.SceneText{
			SceneID: scene.SceneID,
			Text:    scene.Narration,
		})
	}
	timeline, err := p.aligner.Align(ctx, alignReq)
	if err != nil {
		log.Warn("timing stage failed", zap.Error(err))
		return nil, err
	}

	prod := &Production{
		Title:          script.Title,
		Scenes:         produced,
		NarrationTrack: track,
		Timeline:       timeline,
		CreatedAt:      time.Now(),
	}

	// 阶段四（可选）：转写整轨旁白作为字幕
	if p.opts.Subtitles && p.transcriber != nil {
		subs, err := p.transcriber.Transcribe(ctx, &transcribe.TranscribeRequest{AudioURL: track.AudioURL})
		if err != nil {
			// 字幕是增强产物，失败降级而不是废弃整次制作
			log.Warn("subtitle stage failed, continuing without subtitles", zap.Error(err))
		} else {
			prod.Subtitles = subs
		}
	}

	log.Info("production completed",
		zap.Int("scenes", len(prod.Scenes)),
		zap.Int("mappings", len(timeline.SceneMappings)),
	)
	return prod, nil
}

func joinNarrations(script *Script) string {
	parts := make([]string, 0, len(script.Scenes))
	for _, s := range script.Scenes {
		parts = append(parts, strings.TrimSpace(s.Narration))
	}
	return strings.Join(parts, "\n\n")
}
