package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/curatolabs/tracedesk/internal/client"
	"github.com/curatolabs/tracedesk/internal/models"
)

// jobFlags are the shared flags of the job-submitting commands.
type jobFlags struct {
	sessionID   string
	logIDs      []string
	scoreBelow  float64
	provider    string
	model       string
	baseURL     string
	apiKey      string
	concurrency int
	force       bool
	watch       bool
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sessionID, "session", "", "process all logs of this session")
	cmd.Flags().StringSliceVar(&f.logIDs, "ids", nil, "process these log ids")
	cmd.Flags().Float64Var(&f.scoreBelow, "score-below", 0, "process logs scored below this threshold")
	cmd.Flags().StringVar(&f.provider, "provider", "", "provider family: chat, message-delta or local")
	cmd.Flags().StringVar(&f.model, "model", "", "model name")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "provider base URL")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "provider API key")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "parallel items per batch (default 1)")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "watch progress after submitting")
}

func (f *jobFlags) request() client.CreateJobRequest {
	params := models.JobParams{
		SessionID:   f.sessionID,
		LogIDs:      f.logIDs,
		Provider:    f.provider,
		Model:       f.model,
		BaseURL:     f.baseURL,
		Concurrency: f.concurrency,
		Force:       f.force,
	}
	if f.scoreBelow > 0 {
		below := f.scoreBelow
		params.ScoreBelow = &below
	}
	return client.CreateJobRequest{JobParams: params, APIKey: f.apiKey}
}

// submitJob creates the job and either watches it or prints the id.
func submitJob(jobType models.JobType, f *jobFlags) error {
	ctx := context.Background()
	id, err := apiClient.CreateJob(ctx, jobType, f.request())
	if err != nil {
		return fmt.Errorf("create %s job: %w", jobType, err)
	}

	if f.watch {
		job, err := apiClient.GetJob(ctx, id)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return RunJobProgress(apiClient, job)
	}

	fmt.Printf("Job %s accepted\n", id)
	fmt.Printf("Use 'tracedesk jobs watch %s' to follow progress\n", id)
	return nil
}

var scoreFlags jobFlags

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Grade reasoning traces with a model",
	Long: `Submit a scoring job: each record in scope is graded 1-10 by the model
and the grade is written back. Already-scored records are skipped unless
--force is given.

Examples:
  tracedesk score --session sess-1 --model gpt-4o --api-key $KEY
  tracedesk score --ids log1,log2 --provider local --model qwen3 --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitJob(models.JobTypeScore, &scoreFlags)
	},
}

func init() {
	scoreFlags.register(scoreCmd)
	scoreCmd.Flags().BoolVar(&scoreFlags.force, "force", false, "re-grade records that already have a score")
	rootCmd.AddCommand(scoreCmd)
}
