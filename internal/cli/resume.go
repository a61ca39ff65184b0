package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resumeAPIKey string
var resumeWatch bool

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a failed or cancelled job",
	Long: `Relaunch a failed job under the same id. Items already marked as
successfully processed in the job's trace are skipped; everything else is
retried.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		job, err := apiClient.ResumeJob(ctx, args[0], resumeAPIKey)
		if err != nil {
			return fmt.Errorf("resume job: %w", err)
		}

		if resumeWatch {
			return RunJobProgress(apiClient, job)
		}
		fmt.Printf("Job %s resumed (%d/%d already processed)\n",
			job.ID, job.Progress.Current, job.Progress.Total)
		fmt.Printf("Use 'tracedesk jobs watch %s' to follow progress\n", job.ID)
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeAPIKey, "api-key", "", "provider API key (if the job needs one)")
	resumeCmd.Flags().BoolVarP(&resumeWatch, "watch", "w", false, "watch progress after resuming")
	rootCmd.AddCommand(resumeCmd)
}
