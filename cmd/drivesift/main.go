package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/drivesift/drivesift/internal/caption"
	"github.com/drivesift/drivesift/internal/config"
	"github.com/drivesift/drivesift/internal/embedder"
	"github.com/drivesift/drivesift/internal/extractor"
	"github.com/drivesift/drivesift/internal/ingest"
	"github.com/drivesift/drivesift/internal/models"
	"github.com/drivesift/drivesift/internal/ratelimit"
	"github.com/drivesift/drivesift/internal/sampler"
	"github.com/drivesift/drivesift/internal/search"
	"github.com/drivesift/drivesift/internal/storage"
)

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "drivesift",
		Short: "Semantic search over driving footage",
		Long: `Drivesift samples frames out of driving videos, embeds them through a
rate-governed provider client, and answers natural-language queries by
ranking frames against the embedding space.`,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "drivesift.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cleanupCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}

func storeConfig(cfg config.Config) storage.Config {
	return storage.Config{
		Host:      cfg.Database.Host,
		Port:      cfg.Database.Port,
		User:      cfg.Database.User,
		Password:  cfg.Database.Password,
		DBName:    cfg.Database.DBName,
		Dimension: cfg.Provider.Dimension,
	}
}

// newClient wires limiter, provider and captioner into the embedding client.
func newClient(ctx context.Context, cfg config.Config, logger *slog.Logger, withCaptioner bool) (*embedder.Client, *ratelimit.Limiter, error) {
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Limits.RequestsPerMinute,
		TokensPerMinute:   cfg.Limits.TokensPerMinute,
		MaxConcurrent:     cfg.Limits.MaxConcurrent,
		DailyCostUSD:      cfg.Limits.DailyCostUSD,
		PricePerMTokUSD:   cfg.Limits.PricePerMTokUSD,
	})

	provider := embedder.NewHTTPProvider(embedder.HTTPConfig{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         os.Getenv("EMBED_API_KEY"),
		Model:          cfg.Provider.EmbedModel,
		TimeoutSeconds: cfg.Provider.TimeoutSeconds,
	})

	opts := embedder.Options{MaxAttempts: cfg.Provider.MaxRetries}
	if withCaptioner && cfg.Provider.CaptionModel != "" {
		agent, err := caption.NewAgent(ctx, caption.Config{Model: cfg.Provider.CaptionModel}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init captioner: %w", err)
		}
		opts.Captioner = agent
	}

	return embedder.NewClient(provider, limiter, logger, opts), limiter, nil
}

func ingestCmd() *cobra.Command {
	var videoPath string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Sample, extract and embed the frames of a video",
		RunE: func(cmd *cobra.Command, args []string) error {
			if videoPath == "" {
				return fmt.Errorf("--video is required")
			}

			ctx := cmd.Context()
			logger := newLogger()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			meta, err := extractor.Probe(videoPath)
			if err != nil {
				return err
			}

			frames, err := sampler.Sample(meta, sampler.Config{
				Strategy:             sampler.Strategy(cfg.Sampling.Strategy),
				IntervalSeconds:      cfg.Sampling.IntervalSeconds,
				DenseIntervalSeconds: cfg.Sampling.DenseIntervalSeconds,
				TargetFrames:         cfg.Sampling.TargetFrames,
				MaxFramesPerVideo:    cfg.Sampling.MaxFramesPerVideo,
			})
			if err != nil {
				return err
			}
			logger.Info("sampled frames", "video", videoPath, "frames", len(frames), "strategy", cfg.Sampling.Strategy)

			if err := extractor.ExtractFrames(videoPath, cfg.Frames.OutputDir, frames); err != nil {
				return err
			}

			if err := storage.InitSchema(ctx, storeConfig(cfg)); err != nil {
				return err
			}
			store, err := storage.New(ctx, storeConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
			video, err := store.GetOrCreateVideo(ctx, videoName, meta, cfg.Sampling.Strategy)
			if err != nil {
				return err
			}

			rows := make([]models.Frame, len(frames))
			for i, f := range frames {
				rows[i] = models.Frame{
					VideoID:   video.ID,
					Number:    f.Number,
					Timestamp: f.Timestamp,
					Path:      extractor.FramePath(cfg.Frames.OutputDir, videoName, f.Number),
				}
			}
			if err := store.InsertFrames(ctx, video.ID, rows); err != nil {
				return err
			}

			backlog, err := store.ListBacklog(ctx, video.ID)
			if err != nil {
				return err
			}
			if len(backlog) == 0 {
				fmt.Println("Nothing to do: every frame already has an embedding.")
				return nil
			}

			client, limiter, err := newClient(ctx, cfg, logger, true)
			if err != nil {
				return err
			}

			orch := ingest.NewOrchestrator(store, client, logger, ingest.Options{
				Workers: cfg.Limits.MaxConcurrent,
				OnProgress: func(p models.Progress) {
					fmt.Printf("\r%s", ingest.FormatProgress(p))
				},
			})
			report, err := orch.Run(ctx, backlog)
			fmt.Println()
			if err != nil {
				return err
			}

			fmt.Printf("Ingestion finished: %d processed, %d failed, %d skipped in %s\n",
				report.Processed, report.Failed, report.Skipped, report.Elapsed.Round(time.Millisecond))

			status := limiter.GetStatus()
			logger.Info("budget usage",
				"requests_pct", fmt.Sprintf("%.1f", status.Requests.Percent),
				"tokens_pct", fmt.Sprintf("%.1f", status.Tokens.Percent),
				"daily_cost_usd", fmt.Sprintf("%.4f", status.DailyCost.Current),
			)

			if report.Failed == 0 {
				if err := store.MarkVideoProcessed(ctx, video.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&videoPath, "video", "", "Path to the video file")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	var threshold float64

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank frames against a natural-language query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			store, err := storage.New(ctx, storeConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			client, _, err := newClient(ctx, cfg, logger, false)
			if err != nil {
				return err
			}

			engine := search.NewEngine(client, store, logger, search.Options{
				DefaultLimit:     cfg.Search.DefaultLimit,
				MaxLimit:         cfg.Search.MaxLimit,
				DefaultThreshold: cfg.Search.DefaultThreshold,
			})

			var override *float64
			if cmd.Flags().Changed("threshold") {
				override = &threshold
			}

			results, err := engine.Search(ctx, args[0], limit, override)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No matching frames.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%3d. frame=%d video=%d t=%.1fs similarity=%.3f\n",
					r.Rank, r.FrameID, r.VideoID, r.Timestamp, r.Similarity)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (0 = default)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Similarity threshold override")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show embedding-space stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := storage.New(ctx, storeConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("videos: %d\nframes: %d\nembeddings: %d\ncomplete: %.1f%%\n",
				stats.Videos, stats.Frames, stats.Embeddings, stats.CompletePercent)
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove superseded duplicate embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := storage.New(ctx, storeConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.CleanupDuplicateEmbeddings(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d duplicate embeddings.\n", removed)
			return nil
		},
	}
}
