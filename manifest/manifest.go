// Package manifest parses reprovm's line-oriented task manifest format into
// typed Task records.
//
// A manifest looks like:
//
//	task build {
//	  cmd = go build ./...
//	  inputs = *.go
//	  outputs = bin/app
//	  deps = generate
//	}
//
// Field values are free-form up to the newline (cmd) or comma-separated and
// trimmed (inputs, outputs, deps). `#` at the start of a trimmed line is a
// comment. A `}` standing alone, or trailing another line, closes the
// current task block. Unknown keys inside a task block are ignored so the
// format can grow without breaking older parsers.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/exp/maps"
)

// Task is one named unit of work declared in a manifest.
type Task struct {
	Name    string   // Unique task name
	Cmd     string   // Shell command to run
	Inputs  []string // File paths this task reads, globs already expanded
	Outputs []string // File paths this task produces
	Deps    []string // Names of tasks that must complete first, in declared order
}

// Manifest is the parsed, indexed form of a manifest file.
//
// Tasks is addressed by index so that the graph and scheduler packages can
// refer to a task by a stable int rather than a pointer, keeping the task
// set a flat, acyclic-by-construction container even though the dependency
// relation between tasks can be arbitrarily tangled.
type Manifest struct {
	Tasks      []Task
	index      map[string]int      // task name -> index into Tasks
	Dependents map[string][]string // task name -> names of tasks that depend on it
}

// Warning is a non-fatal issue found while parsing, such as a dependency
// that names a task not defined anywhere in the manifest. Warnings do not
// abort parsing; an undefined dependency only becomes an error if it ends
// up in a requested closure (see package graph).
type Warning struct {
	Task    string
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("task %q: %s", w.Task, w.Message)
}

// ParseError reports a malformed manifest: a line outside a task block that
// is not a task header, a task block without a name, a field without "=",
// or a task block missing its closing brace. Failures opening or reading the
// manifest are returned as ordinary wrapped errors, not as a ParseError.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest parse error at line %d: %s", e.Line, e.Message)
}

// Index returns the position of name in m.Tasks and whether it was found.
func (m *Manifest) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Get returns the Task named name and whether it was found.
func (m *Manifest) Get(name string) (Task, bool) {
	i, ok := m.index[name]
	if !ok {
		return Task{}, false
	}
	return m.Tasks[i], true
}

// Names returns every declared task name, sorted, so callers get a
// deterministic iteration order regardless of map internals.
func (m *Manifest) Names() []string {
	names := maps.Keys(m.index)
	sort.Strings(names)
	return names
}

// ParseFile reads and parses the manifest at path, expanding glob entries in
// inputs/outputs relative to path's directory.
func ParseFile(path string) (*Manifest, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open manifest %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, filepath.Dir(path))
}

// Parse reads a manifest from r, expanding any glob entries in inputs and
// outputs relative to root. Pass "" for root to skip glob expansion.
func Parse(r io.Reader, root string) (*Manifest, []Warning, error) {
	tasks, err := parseTasks(r)
	if err != nil {
		return nil, nil, err
	}

	if root != "" {
		for i := range tasks {
			expanded, err := expandAll(root, tasks[i].Inputs)
			if err != nil {
				return nil, nil, fmt.Errorf("task %q: %w", tasks[i].Name, err)
			}
			tasks[i].Inputs = expanded

			expanded, err = expandAll(root, tasks[i].Outputs)
			if err != nil {
				return nil, nil, fmt.Errorf("task %q: %w", tasks[i].Name, err)
			}
			tasks[i].Outputs = expanded
		}
	}

	m := &Manifest{
		Tasks:      tasks,
		index:      make(map[string]int, len(tasks)),
		Dependents: make(map[string][]string),
	}
	for i, t := range tasks {
		m.index[t.Name] = i
	}

	var warnings []Warning
	for _, t := range tasks {
		for _, dep := range t.Deps {
			if _, ok := m.index[dep]; !ok {
				warnings = append(warnings, Warning{
					Task:    t.Name,
					Message: fmt.Sprintf("depends on undefined task %q", dep),
				})
				continue
			}
			m.Dependents[dep] = append(m.Dependents[dep], t.Name)
		}
	}

	return m, warnings, nil
}

// expandAll expands every entry in entries that contains a glob
// metacharacter, relative to root, replacing it in place with its sorted
// matches. A literal entry with no metacharacter passes through unchanged.
func expandAll(root string, entries []string) ([]string, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	var out []string
	for _, entry := range entries {
		if !strings.ContainsAny(entry, "*?[") {
			out = append(out, entry)
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(root), entry)
		if err != nil {
			return nil, fmt.Errorf("could not expand glob pattern %q: %w", entry, err)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// parser states.
const (
	stateOutside = iota
	stateInTask
)

// parseTasks performs the line-oriented scan described in the package doc,
// producing Task records in declaration order.
func parseTasks(r io.Reader) ([]Task, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tasks []Task
	var current *Task
	state := stateOutside
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}

		if state == stateOutside {
			name, remainder, ok := parseTaskHeader(trimmed)
			if !ok {
				return nil, &ParseError{Line: lineNo, Message: fmt.Sprintf("expected 'task <name> {', got %q", trimmed)}
			}
			if name == "" {
				return nil, &ParseError{Line: lineNo, Message: "task block is missing a name"}
			}
			current = &Task{Name: name}
			state = stateInTask
			if remainder == "" {
				continue
			}
			trimmed = remainder
			// Fall through to process the remainder of this line as the
			// task's first body content, since the header and a field (or
			// even the closing brace) may share a line.
		}

		closed, err := applyTaskLine(current, trimmed)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Message: err.Error()}
		}
		if closed {
			tasks = append(tasks, *current)
			current = nil
			state = stateOutside
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read manifest: %w", err)
	}
	if state == stateInTask {
		return nil, &ParseError{Line: lineNo, Message: fmt.Sprintf("task %q is missing a closing '}'", current.Name)}
	}

	return tasks, nil
}

// applyTaskLine processes one line (or line remainder) of a task body: a
// trailing or standalone "}" closes the block, and whatever precedes it is
// applied as a field if non-empty.
func applyTaskLine(current *Task, line string) (closed bool, err error) {
	if line == "}" {
		return true, nil
	}
	if strings.HasSuffix(line, "}") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "}"))
		closed = true
	}
	if line != "" {
		if err := applyField(current, line); err != nil {
			return false, err
		}
	}
	return closed, nil
}

// parseTaskHeader matches a line beginning "task <name> {", optionally
// followed on the same line by the start of the task's body (a field, or
// even the closing brace, per the manifest grammar's "deps = }" shorthand).
// ok is false if line isn't a task header at all; name is empty if the
// header is malformed (no name).
func parseTaskHeader(line string) (name string, remainder string, ok bool) {
	if !strings.HasPrefix(line, "task") {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(line, "task"))
	idx := strings.Index(rest, "{")
	if idx == -1 {
		return "", "", false
	}
	name = strings.TrimSpace(rest[:idx])
	remainder = strings.TrimSpace(rest[idx+1:])
	return name, remainder, true
}

// applyField parses a "key = value" line and sets the corresponding field
// on t. Unknown keys are ignored for forward compatibility.
func applyField(t *Task, line string) error {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("task %q: malformed field %q, expected key = value", t.Name, line)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "cmd":
		t.Cmd = value
	case "inputs":
		t.Inputs = splitCSV(value)
	case "outputs":
		t.Outputs = splitCSV(value)
	case "deps":
		t.Deps = splitCSV(value)
	default:
		// Unknown key inside a task block; ignored for forward
		// compatibility.
	}
	return nil
}

// splitCSV splits a comma-separated field, trimming each token and
// discarding empty ones.
func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(value, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		out = append(out, tok)
	}
	return out
}
