package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "reprovmfile")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunNoTargetsBuildsAll(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outPath := filepath.Join(dir, "built.txt")
	manifestPath := writeManifest(t, dir, `
task build {
  cmd = echo built > `+outPath+`
  outputs = `+outPath+`
}
`)

	var out, errOut bytes.Buffer
	a := New(&out, &errOut)
	a.Options.Manifest = manifestPath

	if err := a.Run(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("expected no targets to build every task: %v", err)
	}
}

func TestRunListFlag(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, `
task build {
  cmd = echo hi
}
`)

	var out, errOut bytes.Buffer
	a := New(&out, &errOut)
	a.Options.Manifest = manifestPath
	a.Options.List = true

	if err := a.Run([]string{"build"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Len() == 0 {
		t.Error("expected --list to print something even with targets given")
	}
}

func TestRunExecutesTargets(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outPath := filepath.Join(dir, "built.txt")
	manifestPath := writeManifest(t, dir, `
task build {
  cmd = echo built > `+outPath+`
  outputs = `+outPath+`
}
`)

	var out, errOut bytes.Buffer
	a := New(&out, &errOut)
	a.Options.Manifest = manifestPath
	a.Options.Jobs = 2

	if err := a.Run([]string{"build"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Errorf("expected output to be produced: %v", err)
	}
}

func TestRunUnknownTargetErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	manifestPath := writeManifest(t, dir, `
task build {
  cmd = echo hi
}
`)

	var out, errOut bytes.Buffer
	a := New(&out, &errOut)
	a.Options.Manifest = manifestPath

	if err := a.Run([]string{"nonexistent"}); err == nil {
		t.Fatal("expected an error for an unknown target")
	}
}

func TestRunCleanRemovesOutputsAndCache(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	outPath := filepath.Join(dir, "built.txt")
	if err := os.WriteFile(outPath, []byte("stale"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	manifestPath := writeManifest(t, dir, `
task build {
  cmd = echo hi
  outputs = `+outPath+`
}
`)

	var out, errOut bytes.Buffer
	a := New(&out, &errOut)
	a.Options.Manifest = manifestPath
	a.Options.Clean = true

	if err := a.Run(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(outPath); err == nil {
		t.Error("expected declared output to be removed by --clean")
	}
}
