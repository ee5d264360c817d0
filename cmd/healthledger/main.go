// Command healthledger runs the health data ledger API and its offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/danielhendel/oli-sub001/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
