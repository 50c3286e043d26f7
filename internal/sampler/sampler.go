// Package sampler selects which frames of a decoded video get embedded.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/drivesift/drivesift/internal/models"
)

// ErrInvalidVideo marks malformed video metadata. Fatal to that video's
// ingestion, not to the batch.
var ErrInvalidVideo = errors.New("invalid video")

// Strategy names a frame-selection policy.
type Strategy string

const (
	// StrategyInterval takes one frame every IntervalSeconds.
	StrategyInterval Strategy = "interval"
	// StrategyDense is interval sampling with a shorter step, for recall.
	StrategyDense Strategy = "dense"
	// StrategyFull takes every decoded frame.
	StrategyFull Strategy = "full"
	// StrategyUniform spreads a fixed frame budget evenly across duration.
	StrategyUniform Strategy = "uniform"
	// StrategyAdaptive keeps the top-budget frames by an external score.
	StrategyAdaptive Strategy = "adaptive"
	// StrategyKeyframe is adaptive selection weighted toward visual change;
	// the scorer is supplied by the caller either way.
	StrategyKeyframe Strategy = "keyframe"
)

// Scorer rates a candidate frame's relevance. Higher wins. The scoring
// mechanism (visual change, motion, model output) lives outside this package.
type Scorer func(frameNumber int, timestamp float64) float64

// Config selects and tunes one strategy.
type Config struct {
	Strategy             Strategy
	IntervalSeconds      float64 // interval step, default 5
	DenseIntervalSeconds float64 // dense step, default 1
	TargetFrames         int     // smart-mode frame budget, default 15
	MaxFramesPerVideo    int     // 0 = no cap
	Scorer               Scorer  // adaptive/keyframe ranking input
}

// Sample returns the selected frames sorted by timestamp ascending, with no
// duplicate frame numbers, respecting the per-video cap.
func Sample(video models.VideoMeta, cfg Config) ([]models.FrameRef, error) {
	if video.Duration <= 0 || video.FPS <= 0 {
		return nil, fmt.Errorf("%w: duration=%v fps=%v", ErrInvalidVideo, video.Duration, video.FPS)
	}

	var frames []models.FrameRef
	switch cfg.Strategy {
	case StrategyInterval, "":
		step := cfg.IntervalSeconds
		if step <= 0 {
			step = 5
		}
		frames = byStep(video, step)
	case StrategyDense:
		step := cfg.DenseIntervalSeconds
		if step <= 0 {
			step = 1
		}
		frames = byStep(video, step)
	case StrategyFull:
		frames = everyFrame(video)
	case StrategyUniform:
		frames = uniform(video, budget(cfg))
	case StrategyAdaptive, StrategyKeyframe:
		frames = topScored(video, cfg, budget(cfg))
	default:
		return nil, fmt.Errorf("unknown sampling strategy %q", cfg.Strategy)
	}

	frames = dedupe(frames)
	if cfg.MaxFramesPerVideo > 0 && len(frames) > cfg.MaxFramesPerVideo {
		frames = thin(frames, cfg.MaxFramesPerVideo)
	}
	return frames, nil
}

func budget(cfg Config) int {
	if cfg.TargetFrames > 0 {
		return cfg.TargetFrames
	}
	return 15
}

func byStep(video models.VideoMeta, step float64) []models.FrameRef {
	var out []models.FrameRef
	for t := 0.0; t < video.Duration; t += step {
		out = append(out, frameAt(video, t))
	}
	return out
}

func everyFrame(video models.VideoMeta) []models.FrameRef {
	total := int(math.Floor(video.Duration * video.FPS))
	out := make([]models.FrameRef, 0, total)
	for n := 0; n < total; n++ {
		out = append(out, models.FrameRef{Number: n, Timestamp: float64(n) / video.FPS})
	}
	return out
}

func uniform(video models.VideoMeta, k int) []models.FrameRef {
	out := make([]models.FrameRef, 0, k)
	for i := 0; i < k; i++ {
		t := video.Duration * float64(i) / float64(k)
		out = append(out, frameAt(video, t))
	}
	return out
}

// topScored ranks dense-granularity candidates by the external scorer and
// keeps the best k, re-sorted by timestamp. Without a scorer it falls back
// to uniform spacing rather than guessing a visual-change algorithm.
func topScored(video models.VideoMeta, cfg Config, k int) []models.FrameRef {
	if cfg.Scorer == nil {
		return uniform(video, k)
	}
	step := cfg.DenseIntervalSeconds
	if step <= 0 {
		step = 1
	}
	candidates := dedupe(byStep(video, step))
	if len(candidates) <= k {
		return candidates
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return cfg.Scorer(candidates[i].Number, candidates[i].Timestamp) >
			cfg.Scorer(candidates[j].Number, candidates[j].Timestamp)
	})
	picked := candidates[:k]
	sort.Slice(picked, func(i, j int) bool { return picked[i].Timestamp < picked[j].Timestamp })
	return picked
}

func frameAt(video models.VideoMeta, t float64) models.FrameRef {
	n := int(math.Round(t * video.FPS))
	max := int(math.Floor(video.Duration*video.FPS)) - 1
	if max >= 0 && n > max {
		n = max
	}
	return models.FrameRef{Number: n, Timestamp: t}
}

// dedupe drops repeated frame numbers, keeping the earliest, and returns the
// slice sorted by timestamp.
func dedupe(frames []models.FrameRef) []models.FrameRef {
	sort.Slice(frames, func(i, j int) bool { return frames[i].Timestamp < frames[j].Timestamp })
	seen := make(map[int]bool, len(frames))
	out := frames[:0]
	for _, f := range frames {
		if seen[f.Number] {
			continue
		}
		seen[f.Number] = true
		out = append(out, f)
	}
	return out
}

// thin reduces frames to at most k entries spread evenly over the selection,
// preserving order. Truncation would drop the whole tail of the video.
func thin(frames []models.FrameRef, k int) []models.FrameRef {
	out := make([]models.FrameRef, 0, k)
	n := len(frames)
	for i := 0; i < k; i++ {
		out = append(out, frames[i*n/k])
	}
	return out
}
