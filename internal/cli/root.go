// Package cli provides the command-line interface for tracedesk.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curatolabs/tracedesk/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	verbose   bool

	// apiClient talks to a running tracedesk server. Not used by serve.
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tracedesk",
	Short: "Operator console for curating reasoning-trace records",
	Long: `Tracedesk curates recorded LLM reasoning traces: scoring, rewriting,
migrating and cleaning up session logs through background jobs, with live
progress and a streaming chat proxy.

Most commands talk to a running tracedesk server (see 'tracedesk serve').`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// serve runs in-process and never talks to another server.
		if cmd.Name() == "serve" || cmd.Name() == "version" || cmd.Name() == "help" {
			return
		}
		apiClient = client.New(serverURL)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteServe runs the serve command directly, for the server-only binary.
func ExecuteServe() error {
	return runServe(serveCmd, nil)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "tracedesk server URL (default $TRACEDESK_SERVER_URL or http://localhost:8585)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
