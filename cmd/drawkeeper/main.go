// Command drawkeeper runs the draw auction and its keeper.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/drawkeeper/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
