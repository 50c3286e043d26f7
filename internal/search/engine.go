package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/drivesift/drivesift/internal/models"
	"github.com/drivesift/drivesift/internal/storage"
)

// TextEncoder is the slice of the embedding client the engine needs.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// Options tune result limits and the configured default threshold.
type Options struct {
	DefaultLimit int
	MaxLimit     int

	// DefaultThreshold, when set, replaces the enhancer's default tier for
	// queries that did not match a specific or generic rule.
	DefaultThreshold float64
}

// Engine answers natural-language queries by ranking frames against the
// embedding space. A search fully succeeds or fully fails; it never returns
// a partial ranking as if complete.
type Engine struct {
	encoder TextEncoder
	store   storage.VectorSearcher
	log     *slog.Logger
	opts    Options
}

func NewEngine(encoder TextEncoder, store storage.VectorSearcher, log *slog.Logger, opts Options) *Engine {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	return &Engine{
		encoder: encoder,
		store:   store,
		log:     log.With("component", "search"),
		opts:    opts,
	}
}

// Search enhances the query, encodes it, and ranks nearest frames at or
// above the threshold. thresholdOverride, when non-nil, replaces the
// enhancer's adaptive choice. Zero results is a valid outcome.
func (e *Engine) Search(ctx context.Context, query string, limit int, thresholdOverride *float64) ([]models.SearchResult, error) {
	start := time.Now()

	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	if limit > e.opts.MaxLimit {
		limit = e.opts.MaxLimit
	}

	enhanced, threshold := Enhance(query)
	if threshold == DefaultThreshold && e.opts.DefaultThreshold > 0 {
		threshold = e.opts.DefaultThreshold
	}
	if thresholdOverride != nil {
		threshold = *thresholdOverride
	}

	vector, err := e.encoder.EncodeText(ctx, enhanced)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	rows, err := e.store.Nearest(ctx, vector, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbor query: %w", err)
	}

	results := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		if r.Similarity < threshold {
			continue
		}
		results = append(results, models.SearchResult{
			FrameID:    r.FrameID,
			VideoID:    r.VideoID,
			Timestamp:  r.Timestamp,
			Similarity: r.Similarity,
		})
	}

	// The store orders by distance; re-sort to pin the tie-break to frame
	// id so output is deterministic regardless of backend.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].FrameID < results[j].FrameID
	})
	for i := range results {
		results[i].Rank = i + 1
	}

	e.log.Info("search completed",
		"query", query,
		"enhanced", enhanced,
		"threshold", threshold,
		"results", len(results),
		"latency", time.Since(start),
	)
	return results, nil
}
