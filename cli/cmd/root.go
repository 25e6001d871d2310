// Package cmd implements the reprovm CLI command tree.
package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"reprovm/cli/app"
)

var (
	version     = "dev" // reprovm version, set at compile time by ldflags
	commit      = ""    // reprovm commit hash, set at compile time by ldflags
	headerStyle = color.New(color.FgWhite, color.Bold)
)

// BuildRootCmd builds and returns the root reprovm CLI command.
func BuildRootCmd() *cobra.Command {
	// Options is a pointer so flag values propagate into the App struct.
	options := &app.Options{}
	reprovm := app.New(os.Stdout, os.Stderr)
	reprovm.Options = options

	rootCmd := &cobra.Command{
		Use:           "reprovm [targets]...",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "A reproducible, content-addressed task execution engine",
		Long: heredoc.Doc(`

		A reproducible, content-addressed task execution engine.

		reprovm reads a manifest of named tasks, each with a command, declared
		file inputs and outputs, and dependencies on other tasks. It runs each
		task at most once per unique (command, inputs, upstream results)
		fingerprint, caching outputs in a content-addressed store so repeated
		invocations of unchanged tasks short-circuit to the cached result.

		Independent tasks run concurrently, constrained only by the
		dependency partial order declared in the manifest.
		`),
		Example: heredoc.Doc(`

		# Build every task in ./reprovmfile
		$ reprovm

		# Build just the named targets and their dependencies
		$ reprovm test lint

		# List the tasks defined in the manifest
		$ reprovm --list

		# Force every scheduled task to re-run, ignoring the cache
		$ reprovm --force build

		# Remove declared outputs and the on-disk cache
		$ reprovm --clean
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reprovm.Run(args)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&options.Manifest, "manifest", "", "Path to the manifest file (defaults to '$CWD/reprovmfile').")
	flags.IntVarP(&options.Jobs, "jobs", "j", runtime.NumCPU(), "Number of worker goroutines to run tasks concurrently.")
	flags.BoolVar(&options.Force, "force", false, "Ignore the cache and re-run every scheduled task.")
	flags.BoolVar(&options.List, "list", false, "List the tasks defined in the manifest and exit.")
	flags.BoolVar(&options.Clean, "clean", false, "Remove declared outputs and the on-disk cache.")
	flags.BoolVarP(&options.Verbose, "verbose", "v", false, "Enable debug level logging.")

	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.SetVersionTemplate(fmt.Sprintf(`{{printf "%s %s\n%s %s\n"}}`, headerStyle.Sprint("Version:"), version, headerStyle.Sprint("Commit:"), commit))

	return rootCmd
}
