// Package main provides the standalone tracedesk server binary. It is the
// same server the CLI's serve command runs, packaged for deployments that
// do not ship the operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/curatolabs/tracedesk/internal/cli"
)

func main() {
	if err := cli.ExecuteServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
