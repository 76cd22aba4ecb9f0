// Command logagg is an idempotent pub-sub log aggregator.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/logagg/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
