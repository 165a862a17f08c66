// Command otto runs LLM tasks and their permission workflow.
package main

import (
	"fmt"
	"os"

	"github.com/harun/otto/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
