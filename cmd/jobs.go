package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/lens-cleaner/internal/config"
	"github.com/kozaktomas/lens-cleaner/internal/database"
	"github.com/kozaktomas/lens-cleaner/internal/database/postgres"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List batch analysis jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a batch job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running batch job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
}

// openRepository initializes the PostgreSQL backend for one-shot commands.
func openRepository(cfg *config.Config) (database.Repository, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return postgres.GetGlobalPool(), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	repo, err := openRepository(config.Load())
	if err != nil {
		return err
	}
	defer repo.Close()

	jobs, err := repo.ListJobs(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No batch jobs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPROVIDER\tREQUESTS\tSUGGESTIONS\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			job.ID, job.State, job.Provider,
			job.SubmittedRequests, job.ProcessedSuggestions,
			job.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	job, err := repo.GetJob(cmd.Context(), args[0])
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("job %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("loading job: %w", err)
	}

	fmt.Printf("Job:         %s\n", job.ID)
	fmt.Printf("State:       %s\n", job.State)
	fmt.Printf("Provider:    %s\n", job.Provider)
	fmt.Printf("Requests:    %d\n", job.SubmittedRequests)
	fmt.Printf("Suggestions: %d\n", job.ProcessedSuggestions)
	fmt.Printf("Created:     %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", job.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if job.RemoteJobName != nil {
		fmt.Printf("Remote job:  %s\n", *job.RemoteJobName)
	}
	if job.ErrorMessage != nil {
		fmt.Printf("Error:       %s\n", *job.ErrorMessage)
	}
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	repo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := cmd.Context()
	orchestrator, err := newOrchestrator(ctx, cfg, repo)
	if err != nil {
		return err
	}
	defer orchestrator.Close()

	job, err := orchestrator.Cancel(ctx, args[0])
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("job %s not found", args[0])
	}
	if errors.Is(err, database.ErrInvalidTransition) {
		return fmt.Errorf("job %s already finished", args[0])
	}
	if err != nil {
		return fmt.Errorf("cancelling job: %w", err)
	}

	fmt.Printf("Job %s cancelled\n", job.ID)
	return nil
}
