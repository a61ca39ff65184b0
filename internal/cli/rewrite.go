package cli

import (
	"github.com/spf13/cobra"

	"github.com/curatolabs/tracedesk/internal/models"
)

var rewriteFlags jobFlags

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Regenerate reasoning for low-quality traces",
	Long: `Submit a rewrite job: the model regenerates the reasoning of each record
in scope and the sanitized result replaces the stored reasoning and answer.

Typically scoped with --score-below to target traces a scoring pass
flagged as weak:

  tracedesk rewrite --score-below 5 --model gpt-4o --api-key $KEY --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitJob(models.JobTypeRewrite, &rewriteFlags)
	},
}

func init() {
	rewriteFlags.register(rewriteCmd)
	rootCmd.AddCommand(rewriteCmd)
}
