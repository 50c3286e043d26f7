package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/drivesift/drivesift/internal/models"
)

// Runs against a local PostgreSQL with the pgvector extension:
//
//	DRIVESIFT_PG_INTEGRATION=1 go test ./internal/storage/
func integrationConfig() Config {
	host := os.Getenv("DRIVESIFT_PG_HOST")
	if host == "" {
		host = "localhost"
	}
	return Config{
		Host:      host,
		Port:      "5432",
		User:      "drivesift",
		Password:  os.Getenv("DRIVESIFT_DB_PASSWORD"),
		DBName:    "drivesift_test",
		Dimension: 3,
	}
}

func openIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DRIVESIFT_PG_INTEGRATION") != "1" {
		t.Skip("set DRIVESIFT_PG_INTEGRATION=1 to run PostgreSQL integration tests")
	}

	ctx := context.Background()
	cfg := integrationConfig()
	if err := InitSchema(ctx, cfg); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func seedVideoWithFrames(t *testing.T, store *Store, name string, frameCount int) (*models.Video, []models.Frame) {
	t.Helper()
	ctx := context.Background()

	video, err := store.GetOrCreateVideo(ctx, name, models.VideoMeta{
		Duration: float64(frameCount), FPS: 30, Width: 1920, Height: 1080,
	}, "interval")
	if err != nil {
		t.Fatalf("GetOrCreateVideo: %v", err)
	}

	frames := make([]models.Frame, frameCount)
	for i := range frames {
		frames[i] = models.Frame{
			VideoID:   video.ID,
			Number:    i * 30,
			Timestamp: float64(i),
			Path:      "/frames/test.jpg",
		}
	}
	if err := store.InsertFrames(ctx, video.ID, frames); err != nil {
		t.Fatalf("InsertFrames: %v", err)
	}

	backlog, err := store.ListBacklog(ctx, video.ID)
	if err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(backlog) != frameCount {
		t.Fatalf("backlog: want=%d got=%d", frameCount, len(backlog))
	}
	return video, backlog
}

func TestIntegrationInsertEmbeddingConflict(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()
	_, frames := seedVideoWithFrames(t, store, "it_conflict_"+time.Now().Format("150405.000"), 2)

	inserted, err := store.InsertEmbedding(ctx, frames[0].ID, []float32{1, 0, 0}, "fake-embed")
	if err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}
	if !inserted {
		t.Fatalf("first insert: want inserted=true")
	}

	inserted, err = store.InsertEmbedding(ctx, frames[0].ID, []float32{0, 1, 0}, "fake-embed")
	if err != nil {
		t.Fatalf("second InsertEmbedding: %v", err)
	}
	if inserted {
		t.Fatalf("second insert: want inserted=false (unique frame_id)")
	}

	has, err := store.HasEmbedding(ctx, frames[0].ID)
	if err != nil || !has {
		t.Fatalf("HasEmbedding: want=true got=%v err=%v", has, err)
	}

	backlog, err := store.ListBacklog(ctx, frames[0].VideoID)
	if err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(backlog) != 1 {
		t.Fatalf("backlog after one embed: want=1 got=%d", len(backlog))
	}
}

func TestIntegrationSupersedeKeepsNewest(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()
	_, frames := seedVideoWithFrames(t, store, "it_supersede_"+time.Now().Format("150405.000"), 1)

	if _, err := store.InsertEmbedding(ctx, frames[0].ID, []float32{1, 0, 0}, "fake-embed"); err != nil {
		t.Fatalf("InsertEmbedding: %v", err)
	}
	if err := store.SupersedeEmbedding(ctx, frames[0].ID, []float32{0, 1, 0}, "fake-embed"); err != nil {
		t.Fatalf("SupersedeEmbedding: %v", err)
	}

	// Exactly one embedding remains, and it is the newer one: the search
	// scan must find the frame at similarity 1 for the superseding vector.
	rows, err := store.Nearest(ctx, []float32{0, 1, 0}, 0.99, 1000)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.FrameID == frames[0].ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("superseding vector not authoritative: %+v", rows)
	}

	removed, err := store.CleanupDuplicateEmbeddings(ctx)
	if err != nil {
		t.Fatalf("CleanupDuplicateEmbeddings: %v", err)
	}
	if removed != 0 {
		t.Fatalf("cleanup after supersede: want=0 removed got=%d", removed)
	}
}

func TestIntegrationNearestOrderingAndThreshold(t *testing.T) {
	store := openIntegrationStore(t)
	ctx := context.Background()
	_, frames := seedVideoWithFrames(t, store, "it_nearest_"+time.Now().Format("150405.000"), 3)

	vectors := [][]float32{
		{1, 0, 0},     // identical to query
		{0.6, 0.8, 0}, // partial match
		{0, 0, 1},     // orthogonal, below threshold
	}
	for i, f := range frames {
		if _, err := store.InsertEmbedding(ctx, f.ID, vectors[i], "fake-embed"); err != nil {
			t.Fatalf("InsertEmbedding %d: %v", i, err)
		}
	}

	all, err := store.Nearest(ctx, []float32{1, 0, 0}, 0.5, 100)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	// The scan is global; other tests' embeddings may match too. Assert
	// only over the frames seeded here.
	var rows []NearestRow
	for _, r := range all {
		if r.VideoID == frames[0].VideoID {
			rows = append(rows, r)
		}
	}
	if len(rows) != 2 {
		t.Fatalf("rows: want=2 got=%d (%+v)", len(rows), rows)
	}
	if rows[0].FrameID != frames[0].ID || rows[1].FrameID != frames[1].ID {
		t.Fatalf("ordering: got %+v", rows)
	}
	if rows[0].Similarity < rows[1].Similarity {
		t.Fatalf("similarity not descending: %+v", rows)
	}
	for _, r := range rows {
		if r.Similarity < 0.5 {
			t.Fatalf("row below threshold: %+v", r)
		}
	}
}
