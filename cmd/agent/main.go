// Package main is the entry point for the tripsync field agent.
// Its sole responsibility is dispatching to the CLI command tree.
package main

import (
	"fmt"
	"os"

	"github.com/fieldops/tripsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
