// Package ingest drives the backlog of un-embedded frames through the
// embedding client. One frame's failure never aborts the batch.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/drivesift/drivesift/internal/embedder"
	"github.com/drivesift/drivesift/internal/models"
	"github.com/drivesift/drivesift/internal/storage"
)

// ErrMissingSource marks a frame whose backing pixel data is absent from
// storage. Per-frame recoverable: logged, counted, skipped.
var ErrMissingSource = errors.New("frame source file missing")

// Failure reason tags surfaced in IngestReport.Failures.
const (
	ReasonMissingSource  = "missing_source"
	ReasonBudgetExceeded = "budget_exceeded"
	ReasonProviderError  = "provider_error"
	ReasonStoreError     = "store_error"
)

// Encoder is the slice of the embedding client the orchestrator needs.
type Encoder interface {
	EncodeImage(ctx context.Context, imagePath string) ([]float32, error)
	Model() string
}

// Options tune an orchestrator.
type Options struct {
	// Workers bounds local parallelism. The rate limiter's concurrency
	// ceiling stays the single source of truth for in-flight provider
	// calls; this only caps goroutines.
	Workers int

	// ProgressEvery emits a progress report every N completed frames.
	ProgressEvery int

	OnProgress func(models.Progress)
}

// Orchestrator runs ingestion over a backlog of frames.
type Orchestrator struct {
	store  storage.FrameStore
	client Encoder
	log    *slog.Logger
	opts   Options

	// stat is swappable for tests.
	stat func(path string) error
}

func NewOrchestrator(store storage.FrameStore, client Encoder, log *slog.Logger, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	return &Orchestrator{
		store:  store,
		client: client,
		log:    log.With("component", "ingest"),
		opts:   opts,
		stat: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// Run processes every frame in the backlog and reports counts. Per-frame
// errors become failure records; Run itself only errors on cancellation,
// after the in-flight frames have drained.
func (o *Orchestrator) Run(ctx context.Context, backlog []models.Frame) (models.IngestReport, error) {
	runID := uuid.NewString()
	start := time.Now()
	total := len(backlog)

	o.log.Info("ingestion run starting", "run_id", runID, "backlog", total)

	var processed, failed, skipped atomic.Int64
	var mu sync.Mutex
	var failures []models.FrameFailure

	workChan := make(chan models.Frame, total)
	var wg sync.WaitGroup

	report := func() {
		done := processed.Load() + failed.Load() + skipped.Load()
		if o.opts.OnProgress == nil || done == 0 || done%int64(o.opts.ProgressEvery) != 0 {
			return
		}
		o.opts.OnProgress(o.progress(runID, total, start, processed.Load(), failed.Load(), skipped.Load()))
	}

	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for frame := range workChan {
				select {
				case <-ctx.Done():
					// Drain without starting new provider calls.
					continue
				default:
				}

				switch outcome, reason := o.processFrame(ctx, frame); outcome {
				case outcomeProcessed:
					processed.Add(1)
				case outcomeSkipped:
					skipped.Add(1)
				case outcomeFailed:
					failed.Add(1)
					mu.Lock()
					failures = append(failures, models.FrameFailure{FrameID: frame.ID, Reason: reason})
					mu.Unlock()
				}
				report()
			}
		}()
	}

	for _, frame := range backlog {
		workChan <- frame
	}
	close(workChan)
	wg.Wait()

	rep := models.IngestReport{
		Processed: int(processed.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Failures:  failures,
		Elapsed:   time.Since(start),
	}
	o.log.Info("ingestion run finished",
		"run_id", runID,
		"processed", rep.Processed,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"elapsed", rep.Elapsed,
	)

	return rep, ctx.Err()
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (o *Orchestrator) processFrame(ctx context.Context, frame models.Frame) (outcome, string) {
	// The backlog is a snapshot; another run may have embedded this frame
	// since it was taken. Not an error.
	has, err := o.store.HasEmbedding(ctx, frame.ID)
	if err != nil {
		o.log.Warn("embedding existence check failed", "frame_id", frame.ID, "error", err)
		return outcomeFailed, ReasonStoreError
	}
	if has {
		return outcomeSkipped, ""
	}

	if err := o.stat(frame.Path); err != nil {
		o.log.Warn("frame source missing", "frame_id", frame.ID, "path", frame.Path)
		return outcomeFailed, ReasonMissingSource
	}

	vector, err := o.client.EncodeImage(ctx, frame.Path)
	if err != nil {
		reason := ReasonProviderError
		if errors.Is(err, embedder.ErrBudgetExceeded) {
			reason = ReasonBudgetExceeded
		}
		o.log.Warn("frame embedding failed", "frame_id", frame.ID, "reason", reason, "error", err)
		return outcomeFailed, reason
	}

	inserted, err := o.store.InsertEmbedding(ctx, frame.ID, vector, o.client.Model())
	if err != nil {
		o.log.Warn("embedding insert failed", "frame_id", frame.ID, "error", err)
		return outcomeFailed, ReasonStoreError
	}
	if !inserted {
		// A concurrent writer won; the newest embedding stays authoritative
		// and cleanup handles any leftovers.
		return outcomeSkipped, ""
	}
	return outcomeProcessed, ""
}

func (o *Orchestrator) progress(runID string, total int, start time.Time, processed, failed, skipped int64) models.Progress {
	elapsed := time.Since(start)
	p := models.Progress{
		RunID:     runID,
		Total:     total,
		Processed: int(processed),
		Failed:    int(failed),
		Skipped:   int(skipped),
		Elapsed:   elapsed,
	}
	if elapsed > 0 {
		p.Rate = float64(processed) / elapsed.Seconds()
	}
	if p.Rate > 0 {
		remaining := total - int(processed+failed+skipped)
		eta := time.Duration(float64(remaining) / p.Rate * float64(time.Second))
		p.ETA = &eta
	}
	return p
}

// FormatProgress renders one progress report for log or console output.
func FormatProgress(p models.Progress) string {
	eta := "unknown"
	if p.ETA != nil {
		eta = p.ETA.Round(time.Second).String()
	}
	return fmt.Sprintf("%d/%d processed, %d failed, %.1f frames/s, eta %s",
		p.Processed, p.Total, p.Failed, p.Rate, eta)
}
