package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Long: `Request cooperative cancellation of a job. The pipeline stops at the
next batch boundary; items already processed keep their results and the
job can be resumed later.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.CancelJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("Job %s cancelled (%d/%d items processed)\n",
			job.ID, job.Progress.Current, job.Progress.Total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
