// Package record implements reprovm's fingerprint computation and the
// per-fingerprint metadata store backing the cache.
//
// A task's fingerprint is the SHA-256 of a canonical string built from its
// command, its input file content hashes, and the result hashes of its
// declared dependencies. Two tasks with the same command, the same input
// file contents and the same dependency result hashes always land on the
// same fingerprint, regardless of input file names or the declared order of
// inputs, which is what lets a rerun short-circuit to a cached result.
package record

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reprovm/cas"
	"reprovm/hash"
	"reprovm/metrics"
)

// ErrNotFound is returned by Load when no record exists for a fingerprint.
var ErrNotFound = fmt.Errorf("no cache record for this fingerprint")

const metaExt = ".meta"

// Fingerprint computes a task's task_hash from its command, its sorted
// input blob hashes, and its dependencies' result hashes in declared order.
//
// inputHashes must already be the content hashes of cmd's declared inputs
// (not paths); Fingerprint sorts its own copy before hashing so declaration
// order of inputs never affects the result. depResultHashes must be given
// in the task's declared dependency order, since reordering deps is a
// user-visible manifest change and should change the fingerprint.
func Fingerprint(cmd string, inputHashes []string, depResultHashes []string) string {
	sorted := append([]string(nil), inputHashes...)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "cmd=%s\n", cmd)
	fmt.Fprintf(&b, "inputs=%s\n", strings.Join(sorted, ","))
	fmt.Fprintf(&b, "deps=%s\n", strings.Join(depResultHashes, ","))

	return hash.Bytes([]byte(b.String()))
}

// ResultHash computes a task's result_hash from the blob hashes of its
// declared outputs, sorted before joining so declaration order of outputs
// never affects the result. A missing output contributes an empty string
// in its place, matching the original compute_result_hash's handling of an
// output file that never got produced.
func ResultHash(outputHashes []string) string {
	sorted := append([]string(nil), outputHashes...)
	sort.Strings(sorted)
	return hash.Join(sorted)
}

// Record is the persisted form of a completed task: its fingerprint, its
// result hash, and the blob hash of each declared output at the time it
// was written.
type Record struct {
	TaskHash   string
	ResultHash string
	Outputs    map[string]string // output path -> blob hash
}

// Store reads and writes per-fingerprint .meta records under root.
type Store struct {
	root    string
	cas     *cas.Store
	metrics metrics.Sink
}

// New returns a Store rooted at <baseDir>/.reprovm/cache, creating it if
// necessary.
func New(baseDir string, casStore *cas.Store, sink metrics.Sink) (*Store, error) {
	if sink == nil {
		sink = metrics.Noop{}
	}
	root := filepath.Join(baseDir, ".reprovm", "cache")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create record store root %s: %w", root, err)
	}
	return &Store{root: root, cas: casStore, metrics: sink}, nil
}

func (s *Store) path(taskHash string) string {
	return filepath.Join(s.root, taskHash+metaExt)
}

// Load reads the record for taskHash. It returns ErrNotFound if no such
// record exists, which is a normal cache miss rather than a failure.
func (s *Store) Load(taskHash string) (*Record, error) {
	f, err := os.Open(s.path(taskHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not open cache record for %s: %w", taskHash, err)
	}
	defer f.Close()

	rec := &Record{TaskHash: taskHash, Outputs: make(map[string]string)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "task_hash:"):
			// Already known from the filename; kept in the file for
			// self-description and operator debugging.
		case strings.HasPrefix(line, "result_hash:"):
			rec.ResultHash = strings.TrimSpace(strings.TrimPrefix(line, "result_hash:"))
		case strings.HasPrefix(line, "output "):
			fields := strings.Fields(strings.TrimPrefix(line, "output "))
			if len(fields) != 2 {
				continue
			}
			rec.Outputs[fields[0]] = fields[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read cache record for %s: %w", taskHash, err)
	}
	return rec, nil
}

// TryRestore attempts a cache hit for taskHash against declaredOutputs: if
// a record exists, every recorded output whose path is one of
// declaredOutputs is fetched from the CAS back to that path. It returns the
// record's result hash and true on a hit, or ("", false, nil) on a clean
// miss. A record that exists but cannot be read (permission error,
// corrupted .meta) is also treated as a miss rather than a hard failure;
// only a failure restoring an output already known to exist in the CAS is
// surfaced as an error.
func (s *Store) TryRestore(taskHash string, declaredOutputs []string) (resultHash string, hit bool, err error) {
	rec, err := s.Load(taskHash)
	if err != nil {
		// Any read failure against the record store -- a missing file, a
		// permission error, a truncated/unreadable .meta -- is treated as a
		// clean miss rather than surfaced as a hard failure: the task still
		// has everything it needs to recompute and re-cache itself.
		s.metrics.Count("record.read_error_treated_as_miss")
		return "", false, nil
	}

	wanted := make(map[string]struct{}, len(declaredOutputs))
	for _, path := range declaredOutputs {
		wanted[path] = struct{}{}
	}

	for path, blobHash := range rec.Outputs {
		if _, ok := wanted[path]; !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", false, fmt.Errorf("could not prepare output directory for %s: %w", path, err)
		}
		if err := s.cas.FetchToFile(blobHash, path); err != nil {
			return "", false, fmt.Errorf("could not restore output %s from cache: %w", path, err)
		}
	}

	s.metrics.Count("record.hit")
	return rec.ResultHash, true, nil
}

// Write interns each declared output into the CAS, computes the result
// hash, and persists the .meta record for taskHash. Blobs are written
// before the metadata file: if the process crashes between the two, the
// orphaned blob costs disk space but no record ever points at a blob that
// doesn't exist. The .meta file is written to a temp file in the record
// root and renamed into place, so a reader never sees a partial record.
func (s *Store) Write(taskHash string, declaredOutputs []string) (resultHash string, err error) {
	outputs := make(map[string]string, len(declaredOutputs))
	var hashes []string
	for _, path := range declaredOutputs {
		if _, statErr := os.Stat(path); statErr != nil {
			hashes = append(hashes, "")
			continue
		}
		blobHash, err := s.cas.StoreFile(path)
		if err != nil {
			return "", fmt.Errorf("could not store output %s: %w", path, err)
		}
		outputs[path] = blobHash
		hashes = append(hashes, blobHash)
	}

	result := ResultHash(hashes)

	f, err := os.CreateTemp(s.root, taskHash+metaExt+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("could not create cache record for %s: %w", taskHash, err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "task_hash: %s\n", taskHash)
	fmt.Fprintf(w, "result_hash: %s\n", result)
	for _, path := range declaredOutputs {
		blobHash, ok := outputs[path]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "output %s %s\n", path, blobHash)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("could not write cache record for %s: %w", taskHash, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("could not close cache record for %s: %w", taskHash, err)
	}
	if err := os.Rename(f.Name(), s.path(taskHash)); err != nil {
		return "", fmt.Errorf("could not move cache record for %s into place: %w", taskHash, err)
	}

	s.metrics.Count("record.write")
	return result, nil
}
