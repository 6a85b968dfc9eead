// Command heimdex-editor serves the timeline edit engine over a local HTTP
// API and offers offline inspection and export commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
