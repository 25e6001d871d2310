// Command reprovm is the CLI entry point for the task execution engine.
package main

import (
	"os"

	"github.com/FollowTheProcess/msg"

	"reprovm/cli/cmd"
)

func main() {
	if err := run(); err != nil {
		msg.Error("%s", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := cmd.BuildRootCmd()
	return rootCmd.Execute()
}
