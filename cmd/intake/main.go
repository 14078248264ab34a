// Command intake runs the device database submission service.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/intake/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(int(cli.GetExitCode(err)))
	}
}
