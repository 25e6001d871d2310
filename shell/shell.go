// Package shell implements reprovm's command execution, using a 100% Go
// shell interpreter so the executor never shells out to an external /bin/sh.
//
// This implementation is based on a similar one in https://github.com/go-task/task
// at internal/execext/exec.go.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"reprovm/iostream"
)

// The kill timeout handed to interp.DefaultExecHandler: how long a command
// is given to exit after an interrupt before it is killed. Run uses
// context.Background(), which is never cancelled, so no command is aborted
// for running long.
const timeout = 15 * time.Second

// Runner is an interface representing something capable of running a task's
// shell command and returning a Result.
type Runner interface {
	// Run runs cmd belonging to task, in dir, with env set in addition to
	// the host process environment.
	Run(cmd string, stream iostream.IOStream, task string, dir string, env []string) (Result, error)
}

// Result holds the outcome of running one task's shell command.
type Result struct {
	Cmd    string `json:"cmd"`    // The command that was run
	Stdout string `json:"stdout"` // Captured stdout
	Stderr string `json:"stderr"` // Captured stderr
	Status int    `json:"status"` // Exit status, 0 on success
}

// Ok reports whether the result was successful.
func (r Result) Ok() bool {
	return r.Status == 0
}

// Results is a collection of Result, one per scheduled task.
type Results []Result

// Ok reports whether every result in the collection succeeded.
func (r Results) Ok() bool {
	for _, result := range r {
		if !result.Ok() {
			return false
		}
	}
	return true
}

// IntegratedRunner implements Runner with a self-contained shell interpreter,
// so reprovm depends on no external shell binary and behaves identically on
// every platform Go itself supports.
type IntegratedRunner struct {
	parser *syntax.Parser
}

// NewIntegratedRunner returns a Runner with no external dependency.
func NewIntegratedRunner() IntegratedRunner {
	return IntegratedRunner{
		parser: syntax.NewParser(),
	}
}

// Run implements Runner for IntegratedRunner.
//
// Stdout and stderr are both collected into the returned Result and, at the
// same time, streamed to stream so a caller running in verbose mode sees
// output as it happens.
func (i IntegratedRunner) Run(cmd string, stream iostream.IOStream, task string, dir string, env []string) (Result, error) {
	prog, err := i.parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return Result{}, fmt.Errorf("command %q in task %q not valid shell syntax: %w", cmd, task, err)
	}

	// env is appended to os.Environ() so that, with no env passed, the host
	// process environment is used, and any extra vars are layered on top
	// of it rather than replacing it (expand.ListEnviron keeps the last
	// value given for a repeated name).
	env = append(os.Environ(), env...)

	var result Result
	result.Cmd = cmd
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	stdoutMultiWriter := io.MultiWriter(stdout, stream.Stdout)
	stderrMultiWriter := io.MultiWriter(stderr, stream.Stderr)

	execHandler := func(interp.ExecHandlerFunc) interp.ExecHandlerFunc {
		return interp.DefaultExecHandler(timeout)
	}

	runner, err := interp.New(
		interp.Params("-e"),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandlers(execHandler),
		interp.OpenHandler(interp.DefaultOpenHandler()),
		interp.StdIO(nil, stdoutMultiWriter, stderrMultiWriter),
		interp.Dir(dir),
	)
	if err != nil {
		return Result{}, err
	}

	err = runner.Run(context.Background(), prog)
	if err != nil {
		var status interp.ExitStatus
		if !errors.As(err, &status) {
			// Not an exit status but some other error, bail out.
			return Result{}, err
		}
		result.Status = int(status)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	return result, nil
}
