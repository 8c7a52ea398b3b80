package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/lens-cleaner/internal/batch"
	"github.com/kozaktomas/lens-cleaner/internal/cluster"
	"github.com/kozaktomas/lens-cleaner/internal/config"
	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/database/postgres"
	"github.com/kozaktomas/lens-cleaner/internal/embedding"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full analysis pipeline from the terminal",
	Long: `Run the complete pipeline against the local database:
compute missing embeddings, group similar photos, submit the groups to the
batch service and wait for the deletion suggestions to come back.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().Bool("dry-run", false, "Stop after clustering, do not submit anything")
	analyzeCmd.Flags().Bool("skip-embeddings", false, "Skip the embedding step")
	analyzeCmd.Flags().Int("concurrency", 5, "Parallel embedding requests")
	analyzeCmd.Flags().Duration("time-window", 0, "Clustering time window override (e.g. 10m)")
	analyzeCmd.Flags().Float64("threshold", 0, "Similarity threshold override (0..1)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	repo := postgres.GetGlobalPool()
	defer repo.Close()

	ctx := cmd.Context()

	if !mustGetBool(cmd, "skip-embeddings") {
		if err := computeEmbeddings(ctx, cfg, repo, mustGetInt(cmd, "concurrency")); err != nil {
			return err
		}
	}

	groups, err := runClustering(ctx, cfg, repo, cmd)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No similarity groups found, nothing to analyze.")
		return nil
	}
	if mustGetBool(cmd, "dry-run") {
		printGroups(groups)
		return nil
	}

	orchestrator, err := newOrchestrator(ctx, cfg, repo)
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	job, err := orchestrator.Submit(ctx)
	if errors.Is(err, batch.ErrNoEligibleGroups) {
		fmt.Println("No groups eligible for batch analysis (all singletons or over the size cap).")
		return nil
	}
	if err != nil {
		return fmt.Errorf("submitting batch job: %w", err)
	}
	fmt.Printf("Submitted batch job %s (%d requests) to %s\n",
		job.ID, job.SubmittedRequests, job.Provider)

	final, err := waitForJob(ctx, repo, job.ID)
	if err != nil {
		return err
	}

	switch final.State {
	case database.JobStateSucceeded:
		fmt.Printf("Job succeeded, %d suggestions applied\n", final.ProcessedSuggestions)
		return printSuggestions(ctx, repo)
	case database.JobStateFailed:
		msg := "unknown error"
		if final.ErrorMessage != nil {
			msg = *final.ErrorMessage
		}
		return fmt.Errorf("batch job failed: %s", msg)
	default:
		fmt.Printf("Job finished in state %s\n", final.State)
		return nil
	}
}

// computeEmbeddings fills in missing embeddings for ingested photos.
func computeEmbeddings(ctx context.Context, cfg *config.Config, repo database.Repository, concurrency int) error {
	photos, err := repo.ListPhotos(ctx, database.PhotoStatusIngested, 0)
	if err != nil {
		return fmt.Errorf("listing photos: %w", err)
	}
	if len(photos) == 0 {
		fmt.Println("All photos already have embeddings.")
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	fmt.Printf("Computing embeddings for %d photos\n", len(photos))
	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Embedding"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	client := embedding.NewClient(cfg.Embedding.URL, embedding.WithExpectedDim(cfg.Embedding.Dim))

	var failed int64
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, photo := range photos {
		wg.Add(1)
		go func(photo *database.Photo) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			vector, err := client.ComputeEmbedding(ctx, photo.ImageBlob)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				_ = repo.UpdatePhotoStatus(ctx, photo.ID, database.PhotoStatusFailed)
			} else if err := repo.UpdatePhotoEmbedding(ctx, photo.ID, vector); err != nil {
				atomic.AddInt64(&failed, 1)
			}
			_ = bar.Add(1)
		}(photo)
	}
	wg.Wait()
	fmt.Println()

	if failed > 0 {
		fmt.Printf("Warning: %d photos failed to embed and were marked failed\n", failed)
	}
	return nil
}

// runClustering groups embedded photos and persists the assignments.
func runClustering(ctx context.Context, cfg *config.Config, repo database.Repository, cmd *cobra.Command) ([]cluster.Group, error) {
	window := cfg.Cluster.TimeWindow
	if v := mustGetDuration(cmd, "time-window"); v > 0 {
		window = v
	}
	threshold := cfg.Cluster.SimilarityThreshold
	if v := mustGetFloat64(cmd, "threshold"); v > 0 {
		threshold = v
	}

	photos, err := repo.ListPhotosForClustering(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing photos for clustering: %w", err)
	}

	engine := cluster.NewEngine(
		cluster.WithTimeWindow(window),
		cluster.WithSimilarityThreshold(threshold),
	)
	groups := engine.GroupPhotos(photos)

	if err := repo.ClearGroups(ctx); err != nil {
		return nil, fmt.Errorf("clearing previous groups: %w", err)
	}
	for _, group := range groups {
		for _, photo := range group.Photos {
			groupID := group.ID
			if err := repo.SetPhotoGroup(ctx, photo.ID, &groupID); err != nil {
				return nil, fmt.Errorf("assigning photo %s to %s: %w", photo.ID, group.ID, err)
			}
		}
	}

	fmt.Printf("Clustered %d photos into %d groups (window %s, threshold %.2f)\n",
		len(photos), len(groups), window, threshold)
	return groups, nil
}

func printGroups(groups []cluster.Group) {
	for _, group := range groups {
		fmt.Printf("%s (%d photos)\n", group.ID, len(group.Photos))
		for _, photo := range group.Photos {
			fmt.Printf("  %s taken %s\n", photo.ID, photo.TakenAt.Format(time.RFC3339))
		}
	}
}

// waitForJob polls the local job record until the orchestrator's watcher
// drives it to a terminal state.
func waitForJob(ctx context.Context, repo database.Repository, jobID string) (*database.BatchJob, error) {
	fmt.Println("Waiting for the batch service (this can take a while)...")

	lastState := database.JobState("")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		job, err := repo.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("checking job %s: %w", jobID, err)
		}
		if job.State != lastState {
			fmt.Printf("  job state: %s\n", job.State)
			lastState = job.State
		}
		if job.State.IsTerminal() {
			return job, nil
		}
	}
}

// printSuggestions lists every photo the service suggested deleting.
func printSuggestions(ctx context.Context, repo database.Repository) error {
	photos, err := repo.ListGroupedPhotos(ctx)
	if err != nil {
		return fmt.Errorf("listing grouped photos: %w", err)
	}

	count := 0
	for _, photo := range photos {
		if photo.SuggestionReason == nil {
			continue
		}
		count++
		confidence := ""
		if photo.SuggestionConfidence != nil {
			confidence = *photo.SuggestionConfidence
		}
		fmt.Printf("  %s [%s] %s\n", photo.ID, confidence, *photo.SuggestionReason)
	}
	if count == 0 {
		fmt.Println("The service did not suggest deleting any photos.")
	} else {
		fmt.Printf("%d deletion suggestions, review them with the web UI or the API\n", count)
	}
	return nil
}
