package storage

import (
	"context"
	"errors"

	"github.com/drivesift/drivesift/internal/models"
)

// ErrDimensionMismatch marks a vector whose length does not match the store's
// embedding space. Rejected before persistence, never truncated or padded.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// FrameStore is what the ingestion orchestrator needs from persistence.
type FrameStore interface {
	// ListBacklog returns the frames of a video that lack an embedding.
	ListBacklog(ctx context.Context, videoID int) ([]models.Frame, error)

	// HasEmbedding reports whether the frame already owns an embedding.
	HasEmbedding(ctx context.Context, frameID int) (bool, error)

	// InsertEmbedding writes a new embedding unless one already exists for
	// the frame. Returns false when another writer won the race.
	InsertEmbedding(ctx context.Context, frameID int, vector []float32, model string) (bool, error)
}

// NearestRow is one candidate returned by a nearest-neighbor scan, ordered
// by cosine distance ascending.
type NearestRow struct {
	FrameID    int
	VideoID    int
	Timestamp  float64
	Similarity float64
}

// VectorSearcher is what the search engine needs from the vector store.
type VectorSearcher interface {
	// Nearest returns rows with cosine similarity >= threshold, ordered by
	// distance ascending then frame id ascending, at most limit rows.
	Nearest(ctx context.Context, query []float32, threshold float64, limit int) ([]NearestRow, error)
}
