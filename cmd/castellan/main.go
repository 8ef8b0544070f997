// Command castellan is the entry point for the castellan secure document
// intelligence service. It provides a CLI interface (via Cobra) and an
// HTTP server exposing the tier-partitioned query and upload API.
package main

import (
	"fmt"
	"os"

	"github.com/castellan-ai/castellan/cmd/castellan/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
