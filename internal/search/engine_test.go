package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/drivesift/drivesift/internal/storage"
)

type fakeEncoder struct {
	encode func(ctx context.Context, text string) ([]float32, error)
}

func (e *fakeEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return e.encode(ctx, text)
}

type fakeSearcher struct {
	rows         []storage.NearestRow
	err          error
	gotThreshold float64
	gotLimit     int
}

func (s *fakeSearcher) Nearest(ctx context.Context, query []float32, threshold float64, limit int) ([]storage.NearestRow, error) {
	s.gotThreshold = threshold
	s.gotLimit = limit
	return s.rows, s.err
}

func unitEncoder() *fakeEncoder {
	return &fakeEncoder{encode: func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearchOrdering(t *testing.T) {
	searcher := &fakeSearcher{rows: []storage.NearestRow{
		{FrameID: 9, VideoID: 1, Similarity: 0.80},
		{FrameID: 4, VideoID: 1, Similarity: 0.91},
		{FrameID: 7, VideoID: 1, Similarity: 0.91},
		{FrameID: 2, VideoID: 1, Similarity: 0.85},
	}}
	e := NewEngine(unitEncoder(), searcher, discard(), Options{})

	results, err := e.Search(context.Background(), "highway", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	wantIDs := []int{4, 7, 2, 9} // similarity desc, ties by frame id asc
	if len(results) != len(wantIDs) {
		t.Fatalf("result count: want=%d got=%d", len(wantIDs), len(results))
	}
	for i, want := range wantIDs {
		if results[i].FrameID != want {
			t.Fatalf("result %d: want frame=%d got=%d", i, want, results[i].FrameID)
		}
		if results[i].Rank != i+1 {
			t.Fatalf("result %d: want rank=%d got=%d", i, i+1, results[i].Rank)
		}
	}
}

func TestSearchFiltersBelowThreshold(t *testing.T) {
	searcher := &fakeSearcher{rows: []storage.NearestRow{
		{FrameID: 1, Similarity: 0.50},
		{FrameID: 2, Similarity: 0.10}, // below any tier, must never appear
	}}
	e := NewEngine(unitEncoder(), searcher, discard(), Options{})

	results, err := e.Search(context.Background(), "highway", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].FrameID != 1 {
		t.Fatalf("threshold filter failed: %+v", results)
	}
	if searcher.gotThreshold != ThresholdGeneric {
		t.Fatalf("threshold passed to store: want=%v got=%v", ThresholdGeneric, searcher.gotThreshold)
	}
}

func TestSearchThresholdOverride(t *testing.T) {
	searcher := &fakeSearcher{}
	e := NewEngine(unitEncoder(), searcher, discard(), Options{})

	override := 0.9
	if _, err := e.Search(context.Background(), "highway", 10, &override); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.gotThreshold != 0.9 {
		t.Fatalf("override threshold: want=0.9 got=%v", searcher.gotThreshold)
	}
}

func TestSearchConfiguredDefaultThreshold(t *testing.T) {
	searcher := &fakeSearcher{}
	e := NewEngine(unitEncoder(), searcher, discard(), Options{DefaultThreshold: 0.4})

	// "zebra" matches no rule, so the enhancer falls back to its default
	// tier; the configured value must replace it.
	if _, err := e.Search(context.Background(), "zebra", 10, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.gotThreshold != 0.4 {
		t.Fatalf("configured default threshold: want=0.4 got=%v", searcher.gotThreshold)
	}

	// Rule-matched tiers are not replaced.
	if _, err := e.Search(context.Background(), "stop sign", 10, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.gotThreshold != ThresholdSpecific {
		t.Fatalf("specific tier: want=%v got=%v", ThresholdSpecific, searcher.gotThreshold)
	}
}

func TestSearchLimitClamping(t *testing.T) {
	searcher := &fakeSearcher{}
	e := NewEngine(unitEncoder(), searcher, discard(), Options{DefaultLimit: 10, MaxLimit: 50})

	if _, err := e.Search(context.Background(), "rain", 0, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.gotLimit != 10 {
		t.Fatalf("default limit: want=10 got=%d", searcher.gotLimit)
	}

	if _, err := e.Search(context.Background(), "rain", 500, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if searcher.gotLimit != 50 {
		t.Fatalf("max limit: want=50 got=%d", searcher.gotLimit)
	}
}

func TestSearchZeroResultsIsNotAnError(t *testing.T) {
	e := NewEngine(unitEncoder(), &fakeSearcher{}, discard(), Options{})
	results, err := e.Search(context.Background(), "tunnel", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("want zero results, got %d", len(results))
	}
}

func TestSearchFailsWholeOnEncodeError(t *testing.T) {
	enc := &fakeEncoder{encode: func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("provider down")
	}}
	e := NewEngine(enc, &fakeSearcher{}, discard(), Options{})

	if _, err := e.Search(context.Background(), "bus", 10, nil); err == nil {
		t.Fatalf("want error when query encoding fails")
	}
}

func TestSearchFailsWholeOnStoreError(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("store unavailable")}
	e := NewEngine(unitEncoder(), searcher, discard(), Options{})

	results, err := e.Search(context.Background(), "bus", 10, nil)
	if err == nil {
		t.Fatalf("want error when store fails")
	}
	if results != nil {
		t.Fatalf("partial results returned with error: %+v", results)
	}
}

func TestSearchUsesEnhancedQuery(t *testing.T) {
	var encoded string
	enc := &fakeEncoder{encode: func(ctx context.Context, text string) ([]float32, error) {
		encoded = text
		return []float32{1}, nil
	}}
	e := NewEngine(enc, &fakeSearcher{}, discard(), Options{})

	if _, err := e.Search(context.Background(), "stop sign", 5, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}
	want, _ := Enhance("stop sign")
	if encoded != want {
		t.Fatalf("encoded query: want=%q got=%q", want, encoded)
	}
}
