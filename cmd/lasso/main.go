// Command lasso runs the conversation and matching engine of the Lasso
// Telegram bot and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lasso/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
