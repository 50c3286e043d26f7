package models

import "time"

// Video is an immutable media descriptor. Processed flips once every sampled
// frame has an embedding, or ingestion was declared complete with failures.
type Video struct {
	ID        int
	Name      string
	Duration  float64 // seconds
	FPS       float64
	Width     int
	Height    int
	Strategy  string
	Processed bool
	CreatedAt time.Time
}

// VideoMeta is the probed metadata the sampler needs before any rows exist.
type VideoMeta struct {
	Duration float64
	FPS      float64
	Width    int
	Height   int
}

// FrameRef identifies one sampled instant before it is persisted.
type FrameRef struct {
	Number    int
	Timestamp float64
}

// Frame is one sampled instant of a video. Immutable once created; at most
// one embedding may own it.
type Frame struct {
	ID        int
	VideoID   int
	Number    int
	Timestamp float64
	Path      string
	CreatedAt time.Time
}

// Embedding is a fixed-length vector tied to exactly one frame. Never
// mutated; re-embedding supersedes and the newest by CreatedAt wins.
type Embedding struct {
	ID        int
	FrameID   int
	Vector    []float32
	Model     string
	CreatedAt time.Time
}

// SearchResult is one ranked row of a similarity search.
type SearchResult struct {
	FrameID    int
	VideoID    int
	Timestamp  float64
	Similarity float64
	Rank       int
}

// IngestReport summarizes one orchestrator run over a backlog.
type IngestReport struct {
	Processed int
	Failed    int
	Skipped   int
	Failures  []FrameFailure
	Elapsed   time.Duration
}

// FrameFailure records why a single frame did not embed.
type FrameFailure struct {
	FrameID int
	Reason  string
}

// Progress is emitted at a fixed cadence during an ingestion run. ETA is nil
// until the rate is known.
type Progress struct {
	RunID     string
	Total     int
	Processed int
	Failed    int
	Skipped   int
	Elapsed   time.Duration
	Rate      float64 // frames per second
	ETA       *time.Duration
}

// EmbeddingModelDimensions maps provider model names to their vector
// dimensions. Mixing dimensions in one embedding space is a defect.
var EmbeddingModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
}
