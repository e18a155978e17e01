// Command asktra runs the Asktra causal reasoning service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/asktra/asktra/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
