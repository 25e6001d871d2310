// Package app implements reprovm's CLI behaviour; the cli/cmd package
// defers execution to the exported methods here.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/FollowTheProcess/msg"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/juju/ansiterm/tabwriter"

	"reprovm/cas"
	"reprovm/executor"
	"reprovm/graph"
	"reprovm/logger"
	"reprovm/manifest"
	"reprovm/metrics"
	"reprovm/record"
	"reprovm/scheduler"
	"reprovm/shell"
)

// Options holds every flag value reprovm accepts, at their zero values if
// the flag was not set.
type Options struct {
	Manifest string // The --manifest flag (defaults to finding ./reprovmfile in $CWD)
	Jobs     int    // The -j/--jobs flag, worker count (defaults to runtime.NumCPU())
	Force    bool   // The --force flag, bypass the cache entirely
	List     bool   // The --list flag, print defined tasks and exit
	Clean    bool   // The --clean flag, remove declared outputs and the cache
	Verbose  bool   // The --verbose flag, debug-level logging
}

// App represents the reprovm program.
type App struct {
	stdout  io.Writer
	stderr  io.Writer
	Options *Options
	log     *logger.ZapLogger
	printer msg.Printer
}

// New creates and returns a new App writing to stdout/stderr.
func New(stdout, stderr io.Writer) *App {
	printer := msg.Default()
	printer.Stdout = stdout
	printer.Stderr = stderr
	return &App{
		stdout:  stdout,
		stderr:  stderr,
		Options: &Options{},
		printer: printer,
	}
}

// Run is reprovm's entry point. targets names the tasks requested on the
// command line; no targets means "build everything".
func (a *App) Run(targets []string) error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.log.Sync() // nolint: errcheck

	a.log.Debug("parsing manifest at %s", a.Options.Manifest)
	m, warnings, err := manifest.ParseFile(a.Options.Manifest)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		a.printer.Warnf("%s", w)
	}

	g := graph.New(m)
	baseDir := filepath.Dir(a.Options.Manifest)

	if a.Options.Clean {
		return a.clean(m, baseDir)
	}
	if a.Options.List {
		return a.showTasks(m)
	}

	casStore, err := cas.New(baseDir, metrics.Noop{})
	if err != nil {
		return err
	}
	records, err := record.New(baseDir, casStore, metrics.Noop{})
	if err != nil {
		return err
	}
	runner := shell.NewIntegratedRunner()
	exec := executor.New(casStore, records, runner, a.log, metrics.Noop{})
	exec.Force = a.Options.Force

	subset, err := g.Closure(targets)
	if err != nil {
		return err
	}
	order, err := g.Sort(subset)
	if err != nil {
		return err
	}

	jobs := a.Options.Jobs
	if jobs <= 0 {
		jobs = 1
	}
	sched := scheduler.New(m, g, exec, jobs, metrics.Noop{})

	a.log.Debug("running %d task(s) with %d worker(s)", len(order), jobs)
	results, ok := sched.Run(order)

	for _, result := range results {
		a.report(result)
	}

	if !ok {
		return fmt.Errorf("one or more tasks failed")
	}
	return nil
}

// report prints a single task's outcome to stdout, colour-coded by status.
func (a *App) report(result executor.Result) {
	switch result.Status {
	case executor.StatusSkipped:
		skipStyle := color.New(color.FgYellow, color.Bold)
		skipStyle.Fprintf(a.stdout, "- Task %q skipped (cached)\n", result.Task)
	case executor.StatusFailed:
		failStyle := color.New(color.FgRed, color.Bold)
		failStyle.Fprintf(a.stdout, "x Task %q failed: %s\n", result.Task, result.Err)
		if result.Shell.Cmd != "" {
			fmt.Fprint(a.stdout, result.Shell.Stdout)
			fmt.Fprint(a.stderr, result.Shell.Stderr)
		}
	case executor.StatusSuccess:
		fmt.Fprint(a.stdout, result.Shell.Stdout)
		a.printer.Goodf("Task %q completed in %s", result.Task, result.Duration.Round(time.Millisecond))
	}
}

// setup resolves the manifest path, initialises logging and auto-loads a
// sibling .env file.
func (a *App) setup() error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	log, err := logger.NewZapLogger(a.Options.Verbose)
	if err != nil {
		return err
	}
	a.log = log

	if a.Options.Manifest == "" {
		a.Options.Manifest = filepath.Join(cwd, "reprovmfile")
	}
	a.Options.Manifest, err = filepath.Abs(a.Options.Manifest)
	if err != nil {
		return err
	}

	dotenvPath := filepath.Join(filepath.Dir(a.Options.Manifest), ".env")
	if !exists(dotenvPath) {
		a.log.Debug("no .env file found at %s", dotenvPath)
		return nil
	}
	if err := godotenv.Load(dotenvPath); err != nil {
		return fmt.Errorf("could not load .env file: %w", err)
	}
	a.log.Debug("loaded .env file at %s", dotenvPath)

	return nil
}

// showTasks prints every task defined in m: its command and its input,
// output and dependency counts. It does not report whether a cached record
// exists for a task.
func (a *App) showTasks(m *manifest.Manifest) error {
	writer := tabwriter.NewWriter(a.stdout, 0, 8, 1, '\t', tabwriter.AlignRight)

	titleStyle := color.New(color.FgHiWhite, color.Bold)
	taskStyle := color.New(color.FgHiCyan, color.Bold)
	descStyle := color.New(color.FgHiBlack, color.Italic)

	fmt.Fprintf(a.stdout, "Tasks defined in %s:\n", a.Options.Manifest)
	titleStyle.Fprintln(writer, "Name\tCmd\tInputs\tOutputs\tDeps")

	for _, name := range m.Names() {
		task, _ := m.Get(name)
		line := fmt.Sprintf(
			"%s\t%s\t%d\t%d\t%d\n",
			taskStyle.Sprint(task.Name),
			descStyle.Sprint(task.Cmd),
			len(task.Inputs),
			len(task.Outputs),
			len(task.Deps),
		)
		fmt.Fprint(writer, line)
	}

	return writer.Flush()
}

// clean removes every declared output across every task, plus reprovm's
// own CAS and record store roots under baseDir.
func (a *App) clean(m *manifest.Manifest, baseDir string) error {
	var toRemove []string
	seen := make(map[string]struct{})
	for _, task := range m.Tasks {
		for _, out := range task.Outputs {
			if _, ok := seen[out]; ok {
				continue
			}
			seen[out] = struct{}{}
			toRemove = append(toRemove, out)
		}
	}
	sort.Strings(toRemove)
	toRemove = append(toRemove, filepath.Join(baseDir, ".reprovm"))

	for _, path := range toRemove {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("could not remove %s: %w", path, err)
		}
		a.printer.Textf("Removed %s", path)
	}
	a.printer.Good("Done")
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
