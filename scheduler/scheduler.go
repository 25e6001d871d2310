// Package scheduler implements reprovm's dependency-aware parallel worker
// pool: a fixed number of workers drains a ready queue of tasks whose
// in-subset dependencies have all terminated, modeled on parallel_executor.c's
// pthread-based worker pool.
//
// The state shared between workers — the ready queue, the per-task pending
// dependency counters, the count of tasks yet to terminate, and the
// failure flag — is protected by a single mutex and signalled through one
// condition variable, mirroring parallel_ctx_t exactly; Go idiom
// substitutes sync.Mutex/sync.Cond for pthread_mutex_t/pthread_cond_t, but
// the locking discipline is the same: a worker never holds the mutex
// across a task execution.
package scheduler

import (
	"sync"
	"time"

	"reprovm/executor"
	"reprovm/graph"
	"reprovm/manifest"
	"reprovm/metrics"
)

// Scheduler runs a subset of a manifest's tasks, in dependency order, using
// a fixed pool of workers.
type Scheduler struct {
	manifest *manifest.Manifest
	graph    *graph.Graph
	exec     *executor.Executor
	workers  int
	metrics  metrics.Sink
}

// New builds a Scheduler. workers <= 0 is treated as 1. sink may be nil, in
// which case metrics.Noop{} is used.
func New(m *manifest.Manifest, g *graph.Graph, exec *executor.Executor, workers int, sink metrics.Sink) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Scheduler{manifest: m, graph: g, exec: exec, workers: workers, metrics: sink}
}

// state holds the mutex-protected scheduling state shared by all workers
// for a single Run, matching parallel_ctx_t field for field.
type state struct {
	mu sync.Mutex
	cv *sync.Cond

	pendingDeps map[int]int
	ready       []int
	remaining   int
	failedFlag  bool

	results map[int]executor.Result
}

// Run executes every task index in subset, respecting dependency order
// within the subset, using up to s.workers concurrent workers. It returns
// one executor.Result per task in subset, and a bool reporting whether
// every task in subset succeeded or was skipped (a cache hit); a single
// failure anywhere sets this false without halting the rest of the subset.
func (s *Scheduler) Run(subset []int) ([]executor.Result, bool) {
	st := &state{
		pendingDeps: make(map[int]int, len(subset)),
		results:     make(map[int]executor.Result, len(subset)),
		remaining:   len(subset),
	}
	st.cv = sync.NewCond(&st.mu)

	inSubset := make(map[int]struct{}, len(subset))
	for _, i := range subset {
		inSubset[i] = struct{}{}
	}

	// Initial seeding: compute in-subset dependency counts and push every
	// zero-dependency task onto the ready queue before workers start.
	for _, i := range subset {
		n := 0
		for _, p := range s.graph.Dependencies(i) {
			if _, ok := inSubset[p]; ok {
				n++
			}
		}
		st.pendingDeps[i] = n
		if n == 0 {
			st.ready = append(st.ready, i)
		}
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(s.workers)
	for w := 0; w < s.workers; w++ {
		go func() {
			defer wg.Done()
			s.worker(st, inSubset)
		}()
	}
	wg.Wait()
	s.metrics.Observe("scheduler.run_duration_seconds", time.Since(start).Seconds())

	results := make([]executor.Result, len(subset))
	for idx, i := range subset {
		results[idx] = st.results[i]
	}
	return results, !st.failedFlag
}

// worker mirrors parallel_executor.c's worker_main loop: wait for ready work
// or overall completion, dequeue, execute outside the lock, then update
// shared state and wake others.
func (s *Scheduler) worker(st *state, inSubset map[int]struct{}) {
	for {
		st.mu.Lock()
		for len(st.ready) == 0 && st.remaining > 0 {
			st.cv.Wait()
		}
		if len(st.ready) == 0 && st.remaining == 0 {
			st.mu.Unlock()
			return
		}
		i := st.ready[0]
		st.ready = st.ready[1:]
		st.mu.Unlock()

		result := s.runOne(st, i)
		s.metrics.Count("scheduler.task_" + result.Status.String())
		s.metrics.Observe("scheduler.task_duration_seconds", result.Duration.Seconds())

		st.mu.Lock()
		st.results[i] = result
		st.remaining--
		if result.Status == executor.StatusFailed {
			st.failedFlag = true
		}
		for _, d := range s.graph.Dependents(i) {
			if _, ok := inSubset[d]; !ok {
				continue
			}
			st.pendingDeps[d]--
			if st.pendingDeps[d] == 0 {
				st.ready = append(st.ready, d)
			}
		}
		st.cv.Broadcast()
		st.mu.Unlock()
	}
}

// runOne gathers i's dependency result hashes (already populated because a
// task only becomes ready once every in-subset dependency has terminated)
// and invokes the executor.
func (s *Scheduler) runOne(st *state, i int) executor.Result {
	task := s.manifest.Tasks[i]

	depResultHashes := make([]string, 0, len(task.Deps))
	for _, depName := range task.Deps {
		depIndex, ok := s.graph.Index(depName)
		if !ok {
			// An undefined dependency was already warned about at parse
			// time; it contributes no result hash, which is enough to
			// make this task's fingerprint well-defined if less likely
			// to hit the cache.
			continue
		}
		st.mu.Lock()
		depResult := st.results[depIndex]
		st.mu.Unlock()
		depResultHashes = append(depResultHashes, depResult.ResultHash)
	}

	return s.exec.Run(task, depResultHashes)
}
