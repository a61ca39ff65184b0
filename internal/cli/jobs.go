package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/curatolabs/tracedesk/internal/models"
)

var (
	jobsType   string
	jobsStatus string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect background jobs",
	Long: `List background jobs or inspect a specific job by ID.

Examples:
  tracedesk jobs                      # List recent jobs
  tracedesk jobs --status running     # List running jobs
  tracedesk jobs job_score_17...      # Show details for one job
  tracedesk jobs watch job_score_17...# Live progress for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Watch a job's progress live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		job, err := apiClient.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return RunJobProgress(apiClient, job)
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsType, "type", "", "filter by job type")
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by job status")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to list")
	jobsCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx, jobsType, jobsStatus, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-42s %-18s %-10s %-12s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("--------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		progress := ""
		if job.Progress.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress.Current, job.Progress.Total)
		}
		created := job.CreatedAt.Local().Format("15:04:05")
		fmt.Printf("%-42s %-18s %-10s %-12s %s\n", job.ID, job.Type, job.Status, progress, created)
	}

	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Type: %s\n", job.Type)
	fmt.Printf("  Status: %s\n", job.Status)
	if job.Progress.Total > 0 {
		fmt.Printf("  Progress: %d/%d (%d succeeded, %d skipped, %d errored)\n",
			job.Progress.Current, job.Progress.Total,
			job.Progress.Succeeded, job.Progress.Skipped, job.Progress.Errored)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Updated: %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
	if job.Status.Terminal() {
		fmt.Printf("  Duration: %s\n", job.UpdatedAt.Sub(job.CreatedAt).Round(time.Second))
	}
	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}

	if len(job.Result.Data) > 0 {
		fmt.Println("\nResult:")
		for k, v := range job.Result.Data {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}

	if n := len(job.Result.Trace); n > 0 {
		fmt.Printf("\nTrace (last %d of %d):\n", min(n, 10), n)
		for _, ev := range job.Result.Trace[max(0, n-10):] {
			printTraceEvent(ev)
		}
	}

	return nil
}

func printTraceEvent(ev models.TraceEvent) {
	line := fmt.Sprintf("  %s [%s]", ev.Timestamp.Local().Format("15:04:05"), ev.Type)
	if ev.ItemID != "" {
		line += " " + ev.ItemID
	}
	if ev.Message != "" {
		line += ": " + ev.Message
	}
	fmt.Println(line)
}
