// Package storage persists videos, frames and embeddings in PostgreSQL with
// the pgvector extension and runs the nearest-neighbor scans for search.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/drivesift/drivesift/internal/models"
)

// Config holds connection details for PostgreSQL.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string

	// Dimension of the embedding space. Every stored and queried vector
	// must match it exactly.
	Dimension int
}

func (c Config) connString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User, c.Password, c.Host, c.Port, c.DBName,
	)
}

// Store manages interaction with PostgreSQL.
type Store struct {
	pool      *pgxpool.Pool
	dimension int
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, dimension: cfg.Dimension}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) checkDimension(vec []float32) error {
	if len(vec) != s.dimension {
		return fmt.Errorf("%w: want %d got %d", ErrDimensionMismatch, s.dimension, len(vec))
	}
	return nil
}

// GetOrCreateVideo returns the video row for name, creating it on first use.
func (s *Store) GetOrCreateVideo(ctx context.Context, name string, meta models.VideoMeta, strategy string) (*models.Video, error) {
	v := &models.Video{Name: name}
	err := s.pool.QueryRow(ctx,
		`SELECT id, duration, fps, width, height, strategy, processed
		 FROM videos WHERE name = $1`, name,
	).Scan(&v.ID, &v.Duration, &v.FPS, &v.Width, &v.Height, &v.Strategy, &v.Processed)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("error checking for existing video: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO videos (name, duration, fps, width, height, strategy, processed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		 RETURNING id`,
		name, meta.Duration, meta.FPS, meta.Width, meta.Height, strategy, time.Now(),
	).Scan(&v.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create video entry: %w", err)
	}
	v.Duration = meta.Duration
	v.FPS = meta.FPS
	v.Width = meta.Width
	v.Height = meta.Height
	v.Strategy = strategy
	return v, nil
}

// MarkVideoProcessed flips the processed flag once ingestion is declared
// complete for the video.
func (s *Store) MarkVideoProcessed(ctx context.Context, videoID int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE videos SET processed = true WHERE id = $1`, videoID)
	if err != nil {
		return fmt.Errorf("failed to mark video processed: %w", err)
	}
	return nil
}

// InsertFrames stores the sampled frames for a video. Existing
// (video_id, frame_number) rows are left untouched.
func (s *Store) InsertFrames(ctx context.Context, videoID int, frames []models.Frame) error {
	batch := &pgx.Batch{}
	for _, f := range frames {
		batch.Queue(
			`INSERT INTO frames (video_id, frame_number, ts, frame_path, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (video_id, frame_number) DO NOTHING`,
			videoID, f.Number, f.Timestamp, f.Path, time.Now(),
		)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range frames {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert frame: %w", err)
		}
	}
	return nil
}

// ListBacklog returns the frames of a video lacking an embedding: a plain
// existence check, not a guess at staleness.
func (s *Store) ListBacklog(ctx context.Context, videoID int) ([]models.Frame, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT f.id, f.video_id, f.frame_number, f.ts, f.frame_path
		 FROM frames f
		 LEFT JOIN embeddings e ON e.frame_id = f.id
		 WHERE f.video_id = $1 AND e.id IS NULL
		 ORDER BY f.frame_number`,
		videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list backlog: %w", err)
	}
	defer rows.Close()

	var frames []models.Frame
	for rows.Next() {
		var f models.Frame
		if err := rows.Scan(&f.ID, &f.VideoID, &f.Number, &f.Timestamp, &f.Path); err != nil {
			return nil, fmt.Errorf("failed to scan backlog row: %w", err)
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func (s *Store) HasEmbedding(ctx context.Context, frameID int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM embeddings WHERE frame_id = $1)`, frameID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check embedding existence: %w", err)
	}
	return exists, nil
}

// InsertEmbedding writes a new embedding row. The unique index on frame_id
// prevents two concurrent embeds of the same frame from both persisting; the
// losing writer gets inserted=false, not an error.
func (s *Store) InsertEmbedding(ctx context.Context, frameID int, vector []float32, model string) (bool, error) {
	if err := s.checkDimension(vector); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO embeddings (frame_id, embedding, model, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (frame_id) DO NOTHING`,
		frameID, pgvector.NewVector(vector), model, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to store embedding: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SupersedeEmbedding replaces a frame's embedding after a re-embed. The old
// row is removed in the same transaction, so the newest vector is always the
// authoritative one.
func (s *Store) SupersedeEmbedding(ctx context.Context, frameID int, vector []float32, model string) error {
	if err := s.checkDimension(vector); err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM embeddings WHERE frame_id = $1`, frameID); err != nil {
		return fmt.Errorf("failed to delete superseded embedding: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO embeddings (frame_id, embedding, model, created_at)
		 VALUES ($1, $2, $3, $4)`,
		frameID, pgvector.NewVector(vector), model, time.Now()); err != nil {
		return fmt.Errorf("failed to store superseding embedding: %w", err)
	}
	return tx.Commit(ctx)
}

// CleanupDuplicateEmbeddings removes all but the newest embedding per frame.
// Defensive only: the unique index prevents new duplicates, this repairs
// stores that predate it. Idempotent; returns the number of rows removed.
func (s *Store) CleanupDuplicateEmbeddings(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM embeddings e
		 USING embeddings newer
		 WHERE newer.frame_id = e.frame_id
		   AND (newer.created_at > e.created_at
		        OR (newer.created_at = e.created_at AND newer.id > e.id))`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up duplicate embeddings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Nearest runs the cosine nearest-neighbor scan. Rows come back ordered by
// distance ascending with frame id as the deterministic tie-break, capped at
// limit, and never below the similarity threshold.
func (s *Store) Nearest(ctx context.Context, query []float32, threshold float64, limit int) ([]NearestRow, error) {
	if err := s.checkDimension(query); err != nil {
		return nil, err
	}
	qv := pgvector.NewVector(query)
	rows, err := s.pool.Query(ctx,
		`SELECT e.frame_id, f.video_id, f.ts,
		        1 - (e.embedding <=> $1) AS similarity
		 FROM embeddings e
		 JOIN frames f ON f.id = e.frame_id
		 WHERE 1 - (e.embedding <=> $1) >= $2
		 ORDER BY e.embedding <=> $1, e.frame_id
		 LIMIT $3`,
		qv, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar frames: %w", err)
	}
	defer rows.Close()

	var results []NearestRow
	for rows.Next() {
		var r NearestRow
		if err := rows.Scan(&r.FrameID, &r.VideoID, &r.Timestamp, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Stats summarizes the embedding space for the status command.
type Stats struct {
	Videos          int
	Frames          int
	Embeddings      int
	CompletePercent float64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM videos),
		   (SELECT count(*) FROM frames),
		   (SELECT count(*) FROM embeddings)`,
	).Scan(&st.Videos, &st.Frames, &st.Embeddings)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	if st.Frames > 0 {
		st.CompletePercent = 100 * float64(st.Embeddings) / float64(st.Frames)
	}
	return st, nil
}

// InitSchema creates the database schema if it doesn't exist.
func InitSchema(ctx context.Context, cfg Config) error {
	conn, err := pgx.Connect(ctx, cfg.connString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS videos (
            id SERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            duration DOUBLE PRECISION NOT NULL,
            fps DOUBLE PRECISION NOT NULL,
            width INTEGER NOT NULL,
            height INTEGER NOT NULL,
            strategy VARCHAR(32) NOT NULL,
            processed BOOLEAN NOT NULL DEFAULT false,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(name)
        );

        CREATE TABLE IF NOT EXISTS frames (
            id SERIAL PRIMARY KEY,
            video_id INTEGER REFERENCES videos(id) ON DELETE CASCADE,
            frame_number INTEGER NOT NULL,
            ts DOUBLE PRECISION NOT NULL,
            frame_path VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(video_id, frame_number)
        );

        CREATE TABLE IF NOT EXISTS embeddings (
            id SERIAL PRIMARY KEY,
            frame_id INTEGER REFERENCES frames(id) ON DELETE CASCADE,
            embedding vector(%d) NOT NULL,
            model VARCHAR(64) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
    `, cfg.Dimension))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_frames_video_id ON frames(video_id);
        CREATE UNIQUE INDEX IF NOT EXISTS idx_embeddings_frame_id ON embeddings(frame_id);
        CREATE INDEX IF NOT EXISTS idx_embeddings_vector ON embeddings USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
