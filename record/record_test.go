package record_test

import (
	"os"
	"path/filepath"
	"testing"

	"reprovm/cas"
	"reprovm/record"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()
	a := record.Fingerprint("go build", []string{"aaa", "bbb"}, []string{"ccc"})
	b := record.Fingerprint("go build", []string{"aaa", "bbb"}, []string{"ccc"})
	if a != b {
		t.Errorf("Fingerprint not deterministic: %s != %s", a, b)
	}
}

func TestFingerprintInputOrderInsensitive(t *testing.T) {
	t.Parallel()
	a := record.Fingerprint("go build", []string{"aaa", "bbb"}, []string{"ccc"})
	b := record.Fingerprint("go build", []string{"bbb", "aaa"}, []string{"ccc"})
	if a != b {
		t.Errorf("input hash order should not affect fingerprint: %s != %s", a, b)
	}
}

func TestFingerprintDepOrderSensitive(t *testing.T) {
	t.Parallel()
	a := record.Fingerprint("go build", nil, []string{"ccc", "ddd"})
	b := record.Fingerprint("go build", nil, []string{"ddd", "ccc"})
	if a == b {
		t.Error("declared dependency order should affect fingerprint")
	}
}

func TestFingerprintCmdSensitive(t *testing.T) {
	t.Parallel()
	a := record.Fingerprint("go build", nil, nil)
	b := record.Fingerprint("go  build", nil, nil)
	if a == b {
		t.Error("any command edit, including whitespace, should change the fingerprint")
	}
}

func TestResultHashOutputOrderInsensitive(t *testing.T) {
	t.Parallel()
	a := record.ResultHash([]string{"aaa", "bbb"})
	b := record.ResultHash([]string{"bbb", "aaa"})
	if a != b {
		t.Errorf("output hash order should not affect result hash: %s != %s", a, b)
	}
}

func TestResultHashMissingOutputContributesEmpty(t *testing.T) {
	t.Parallel()
	withMissing := record.ResultHash([]string{"aaa", ""})
	withoutMissing := record.ResultHash([]string{"aaa"})
	if withMissing == withoutMissing {
		t.Error("a missing output should contribute an empty placeholder, not be omitted")
	}
}

func TestStoreWriteThenTryRestore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := cas.New(dir, nil)
	if err != nil {
		t.Fatalf("cas.New: %v", err)
	}
	records, err := record.New(dir, store, nil)
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}

	outPath := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(outPath, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	taskHash := "deadbeef"
	result, err := records.Write(taskHash, []string{outPath})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if result == "" {
		t.Fatal("expected a non-empty result hash")
	}

	// Remove the output to simulate a clean checkout; TryRestore should
	// bring it back from the CAS.
	if err := os.Remove(outPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	gotResult, hit, err := records.TryRestore(taskHash, []string{outPath})
	if err != nil {
		t.Fatalf("TryRestore: %v", err)
	}
	if !hit {
		t.Fatal("expected a cache hit")
	}
	if gotResult != result {
		t.Errorf("got result hash %s, want %s", gotResult, result)
	}

	restored, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(restored) != "hello" {
		t.Errorf("got restored content %q, want %q", restored, "hello")
	}
}

func TestStoreTryRestoreMiss(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := cas.New(dir, nil)
	if err != nil {
		t.Fatalf("cas.New: %v", err)
	}
	records, err := record.New(dir, store, nil)
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}

	_, hit, err := records.TryRestore("neverwritten", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit {
		t.Fatal("expected a cache miss for a fingerprint never written")
	}
}

func TestStoreTryRestoreUnreadableRecordTreatedAsMiss(t *testing.T) {
	t.Parallel()
	if os.Getuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	dir := t.TempDir()
	store, err := cas.New(dir, nil)
	if err != nil {
		t.Fatalf("cas.New: %v", err)
	}
	records, err := record.New(dir, store, nil)
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}

	outPath := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(outPath, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	taskHash := "permdenied"
	if _, err := records.Write(taskHash, []string{outPath}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	metaPath := filepath.Join(dir, ".reprovm", "cache", taskHash+".meta")
	if err := os.Chmod(metaPath, 0000); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	defer os.Chmod(metaPath, 0644)

	_, hit, err := records.TryRestore(taskHash, []string{outPath})
	if err != nil {
		t.Fatalf("expected an unreadable record to be treated as a miss, got error: %v", err)
	}
	if hit {
		t.Fatal("expected a cache miss for an unreadable record")
	}
}

func TestStoreLoadNotFound(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := cas.New(dir, nil)
	if err != nil {
		t.Fatalf("cas.New: %v", err)
	}
	records, err := record.New(dir, store, nil)
	if err != nil {
		t.Fatalf("record.New: %v", err)
	}

	_, err = records.Load("nope")
	if err != record.ErrNotFound {
		t.Fatalf("got error %v, want record.ErrNotFound", err)
	}
}
