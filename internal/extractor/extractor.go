// Package extractor shells out to ffprobe/ffmpeg for video metadata and
// frame extraction.
package extractor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/drivesift/drivesift/internal/models"
)

// Probe reads duration, frame rate and dimensions with ffprobe.
func Probe(videoPath string) (models.VideoMeta, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return models.VideoMeta{}, fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}

	cmd := exec.Command(
		"ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate:format=duration",
		"-of", "json",
		videoPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return models.VideoMeta{}, fmt.Errorf("ffprobe failed: %v\nOutput: %s", err, string(output))
	}

	var probed struct {
		Streams []struct {
			Width        int    `json:"width"`
			Height       int    `json:"height"`
			AvgFrameRate string `json:"avg_frame_rate"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probed); err != nil {
		return models.VideoMeta{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return models.VideoMeta{}, fmt.Errorf("no video stream in '%s'", videoPath)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(probed.Format.Duration), 64)
	if err != nil {
		return models.VideoMeta{}, fmt.Errorf("parse duration %q: %w", probed.Format.Duration, err)
	}

	return models.VideoMeta{
		Duration: duration,
		FPS:      parseFrameRate(probed.Streams[0].AvgFrameRate),
		Width:    probed.Streams[0].Width,
		Height:   probed.Streams[0].Height,
	}, nil
}

// parseFrameRate handles ffprobe's fractional form, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(num, 64)
		d, errD := strconv.ParseFloat(den, 64)
		if errN != nil || errD != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// FramePath returns where a sampled frame's JPEG lives under outputDir.
func FramePath(outputDir, videoName string, frameNumber int) string {
	return filepath.Join(outputDir, videoName, fmt.Sprintf("frame_%06d.jpg", frameNumber))
}

// ExtractFrames writes one JPEG per sampled frame. Frames already on disk
// are skipped, so re-running ingestion does not redecode.
func ExtractFrames(videoPath, outputDir string, frames []models.FrameRef) error {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return fmt.Errorf("video file does not exist at path: '%s'", videoPath)
	}

	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	frameDirPath := filepath.Join(outputDir, videoName)
	if err := os.MkdirAll(frameDirPath, 0755); err != nil {
		return fmt.Errorf("failed to create frame directory '%s': %v", frameDirPath, err)
	}

	for _, f := range frames {
		framePath := FramePath(outputDir, videoName, f.Number)
		if _, err := os.Stat(framePath); err == nil {
			continue
		}

		cmd := exec.Command(
			"ffmpeg",
			"-ss", fmt.Sprintf("%.3f", f.Timestamp),
			"-i", videoPath,
			"-frames:v", "1",
			"-q:v", "2",
			"-y",
			framePath,
		)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("ffmpeg failed for frame %d: %v\nOutput: %s", f.Number, err, string(output))
		}
	}

	return nil
}
