// Package executor implements reprovm's per-task cache-check, run-if-miss,
// capture-outputs, write-record cycle.
//
// The executor is deliberately thin: it composes the invariants already
// established by cas and record, and the shell.Runner that actually runs a
// task's command.
package executor

import (
	"fmt"
	"os"
	"time"

	"reprovm/cas"
	"reprovm/iostream"
	"reprovm/logger"
	"reprovm/manifest"
	"reprovm/metrics"
	"reprovm/record"
	"reprovm/shell"
)

// Status is the terminal outcome of running one task.
type Status int

const (
	// StatusSuccess means the command ran and exited zero.
	StatusSuccess Status = iota
	// StatusSkipped means a cache hit restored the task's outputs without
	// running its command.
	StatusSkipped
	// StatusFailed means the command exited non-zero, or a step of the
	// cache protocol itself failed (hashing an input, writing a record).
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what running one task produced: its terminal status, its
// fingerprint and result hash (if computed), and the underlying shell
// result if the command actually ran.
type Result struct {
	Task       string
	Status     Status
	TaskHash   string
	ResultHash string
	Shell      shell.Result
	Err        error
	Duration   time.Duration
}

// Executor runs a single task at a time: cache-check, run-if-miss,
// capture-outputs, write-record. A scheduler drives many Executors
// concurrently over a DAG; the Executor itself has no notion of
// dependencies, only of the precomputed result hashes it's handed.
type Executor struct {
	cas     *cas.Store
	records *record.Store
	runner  shell.Runner
	log     logger.Logger
	metrics metrics.Sink

	// Force, when true, skips the cache-check step entirely so every
	// scheduled task is treated as a miss regardless of its fingerprint.
	Force bool
}

// New builds an Executor. log and sink may be nil, in which case
// logger.Nop{} and metrics.Noop{} are used.
func New(casStore *cas.Store, records *record.Store, runner shell.Runner, log logger.Logger, sink metrics.Sink) *Executor {
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Executor{cas: casStore, records: records, runner: runner, log: log, metrics: sink}
}

// Run executes t given the result hashes of its dependencies, in t's
// declared dependency order. The caller (the scheduler) is responsible for
// ensuring every dependency has already terminated before calling Run, so
// depResultHashes is complete by construction.
func (e *Executor) Run(t manifest.Task, depResultHashes []string) Result {
	start := time.Now()
	result := Result{Task: t.Name}

	taskHash, err := e.fingerprint(t, depResultHashes)
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("could not fingerprint task %q: %w", t.Name, err)
		result.Duration = time.Since(start)
		e.metrics.Count("executor.fingerprint_error")
		return result
	}
	result.TaskHash = taskHash

	if !e.Force {
		resultHash, hit, err := e.records.TryRestore(taskHash, t.Outputs)
		if err != nil {
			result.Status = StatusFailed
			result.Err = fmt.Errorf("could not restore task %q from cache: %w", t.Name, err)
			result.Duration = time.Since(start)
			return result
		}
		if hit {
			result.Status = StatusSkipped
			result.ResultHash = resultHash
			result.Duration = time.Since(start)
			e.log.Info("task %s: skipped (cached, fingerprint %s)", t.Name, taskHash[:12])
			e.metrics.Count("executor.skipped")
			return result
		}
	}

	shellResult, err := e.runner.Run(t.Cmd, iostream.Null(), t.Name, "", nil)
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("could not run task %q: %w", t.Name, err)
		result.Duration = time.Since(start)
		e.metrics.Count("executor.run_error")
		return result
	}
	result.Shell = shellResult
	if !shellResult.Ok() {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("task %q exited with status %d", t.Name, shellResult.Status)
		result.Duration = time.Since(start)
		e.log.Info("task %s: failed (exit %d)", t.Name, shellResult.Status)
		e.metrics.Count("executor.failed")
		return result
	}

	if missing := missingOutputs(t.Outputs); len(missing) > 0 {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("task %q declared output(s) not produced: %v", t.Name, missing)
		result.Duration = time.Since(start)
		e.log.Info("task %s: failed (missing declared output(s) %v)", t.Name, missing)
		e.metrics.Count("executor.output_missing")
		return result
	}

	resultHash, err := e.records.Write(taskHash, t.Outputs)
	if err != nil {
		result.Status = StatusFailed
		result.Err = fmt.Errorf("could not write cache record for task %q: %w", t.Name, err)
		result.Duration = time.Since(start)
		e.metrics.Count("executor.write_error")
		return result
	}

	result.Status = StatusSuccess
	result.ResultHash = resultHash
	result.Duration = time.Since(start)
	e.log.Info("task %s: success (fingerprint %s)", t.Name, taskHash[:12])
	e.metrics.Count("executor.success")
	return result
}

// fingerprint hashes t's declared inputs and combines them with cmd and
// depResultHashes into the task's fingerprint, per record.Fingerprint.
func (e *Executor) fingerprint(t manifest.Task, depResultHashes []string) (string, error) {
	inputHashes := make([]string, len(t.Inputs))
	for i, path := range t.Inputs {
		h, err := e.cas.StoreFile(path)
		if err != nil {
			return "", fmt.Errorf("could not hash input %s: %w", path, err)
		}
		inputHashes[i] = h
	}
	return record.Fingerprint(t.Cmd, inputHashes, depResultHashes), nil
}

// missingOutputs returns the subset of outputs that do not exist on disk.
// compute_result_hash's C counterpart left this case ambiguous (an output
// missing after a successful command still wrote a Success record with an
// empty placeholder hash); reprovm treats it as a task failure instead,
// since a cached record pointing at a "successful" task that never produced
// one of its declared outputs is a correctness trap for every downstream
// task.
func missingOutputs(outputs []string) []string {
	var missing []string
	for _, path := range outputs {
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	return missing
}
