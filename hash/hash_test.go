package hash_test

import (
	"bytes"
	"strings"
	"testing"

	"reprovm/hash"
)

func TestBytesDeterministic(t *testing.T) {
	t.Parallel()
	got := hash.Bytes([]byte("hello\n"))
	want := hash.Bytes([]byte("hello\n"))
	if got != want {
		t.Errorf("hash.Bytes not deterministic: got %s, want %s", got, want)
	}
	if len(got) != hash.HexSize {
		t.Errorf("got digest length %d, want %d", len(got), hash.HexSize)
	}
}

func TestBytesDiffersOnContent(t *testing.T) {
	t.Parallel()
	a := hash.Bytes([]byte("hello\n"))
	b := hash.Bytes([]byte("world\n"))
	if a == b {
		t.Error("different content hashed to the same digest")
	}
}

func TestReaderMatchesBytes(t *testing.T) {
	t.Parallel()
	data := []byte("the quick brown fox")
	want := hash.Bytes(data)
	got, err := hash.Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestHasherIncremental(t *testing.T) {
	t.Parallel()
	h := hash.New()
	h.Write([]byte("hello "))
	h.Write([]byte("world"))
	got := h.Sum()
	want := hash.Bytes([]byte("hello world"))
	if got != want {
		t.Errorf("incremental write gave %s, want %s", got, want)
	}
}

func TestJoinOrderSensitive(t *testing.T) {
	t.Parallel()
	a := hash.Join([]string{"aaa", "bbb"})
	b := hash.Join([]string{"bbb", "aaa"})
	if a == b {
		t.Error("Join should be order sensitive; callers are responsible for sorting")
	}
}

func TestJoinEmpty(t *testing.T) {
	t.Parallel()
	got := hash.Join(nil)
	want := hash.Bytes([]byte(""))
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCanonicalHexEncoding(t *testing.T) {
	t.Parallel()
	got := hash.Bytes([]byte("reprovm"))
	if strings.ToLower(got) != got {
		t.Error("digest is not lowercase")
	}
	for _, r := range got {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("digest contains non-hex character %q", r)
		}
	}
}
