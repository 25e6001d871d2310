// Package cas implements reprovm's content-addressed blob store.
//
// Every blob is keyed by the SHA-256 hash of its bytes and lives at
// objects/<XY>/<REST>, where XY is the first two hex characters of the hash
// and REST is the remaining 62. The two-character fan-out directory bounds
// the number of entries in any one directory and keeps lookup effectively
// O(1) regardless of how many blobs the store accumulates.
//
// Every write goes through a temp file in the same fan-out directory,
// followed by an atomic rename into the final path. Because rename is
// atomic within a filesystem, a concurrent reader observes either absence
// or the fully written blob, never a partial one. A writer that finds the
// object already present skips the write; two writers racing on identical
// content both rename into place, the later rename replacing the blob with
// identical bytes.
package cas

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"reprovm/hash"
	"reprovm/metrics"
)

// Store is reprovm's on-disk content-addressed blob store.
//
// The zero value is not valid; use New. A Store is safe for concurrent use
// by multiple goroutines, relying on atomic rename for write safety rather
// than any in-process locking.
type Store struct {
	objectsRoot string
	metrics     metrics.Sink
}

// New creates a Store rooted at <baseDir>/.reprovm/cas/objects, creating the
// directory tree if it does not already exist. sink may be metrics.Noop{}.
func New(baseDir string, sink metrics.Sink) (*Store, error) {
	if sink == nil {
		sink = metrics.Noop{}
	}
	root := filepath.Join(baseDir, ".reprovm", "cas", "objects")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("could not create CAS object root %s: %w", root, err)
	}
	return &Store{objectsRoot: root, metrics: sink}, nil
}

// ObjectsRoot returns the directory under which blobs are stored,
// <baseDir>/.reprovm/cas/objects for the baseDir given to New.
func (s *Store) ObjectsRoot() string {
	return s.objectsRoot
}

// objectPath returns the fan-out path for a hex hash without creating
// anything; callers that are about to write must call ensureFanout first.
func (s *Store) objectPath(hexHash string) (string, error) {
	if len(hexHash) < 3 {
		return "", fmt.Errorf("hash %q is too short to address a blob", hexHash)
	}
	return filepath.Join(s.objectsRoot, hexHash[:2], hexHash[2:]), nil
}

// ensureFanout creates the two-character fan-out directory for hexHash.
func (s *Store) ensureFanout(hexHash string) (string, error) {
	path, err := s.objectPath(hexHash)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("could not create fan-out directory for %s: %w", hexHash, err)
	}
	return path, nil
}

// Exists reports whether a blob with the given hash is already stored.
func (s *Store) Exists(hexHash string) bool {
	path, err := s.objectPath(hexHash)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// StoreBytes computes the SHA-256 of data and, if an object for that hash is
// not already present, writes it atomically via a temp file plus rename.
// It returns the hash regardless of whether a write actually happened.
func (s *Store) StoreBytes(data []byte) (string, error) {
	digest := hash.Bytes(data)
	path, err := s.ensureFanout(digest)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		// Already present; a concurrent writer for the same content is a
		// no-op by construction.
		return digest, nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("could not create temp file for blob %s: %w", digest, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("could not write blob %s: %w", digest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("could not close temp file for blob %s: %w", digest, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("could not rename temp file into place for blob %s: %w", digest, err)
	}
	s.metrics.Count("cas.store")
	return digest, nil
}

// StoreFile streams path through SHA-256 and, if the resulting object is not
// already present, copies path into the store via a temp file plus rename.
// It both hashes and interns the blob in a single call, matching
// cas_store_blob_from_file's combined hash-and-intern behavior.
func (s *Store) StoreFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open %s to hash: %w", path, err)
	}
	digest, err := hash.Reader(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("could not hash %s: %w", path, err)
	}

	objPath, err := s.ensureFanout(digest)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(objPath); err == nil {
		return digest, nil
	}

	if err := copyViaTemp(path, objPath); err != nil {
		return "", fmt.Errorf("could not intern %s as blob %s: %w", path, digest, err)
	}
	s.metrics.Count("cas.store")
	return digest, nil
}

// FetchToFile copies the blob identified by hexHash to dest, overwriting
// dest if it already exists. dest's parent directory must already exist.
func (s *Store) FetchToFile(hexHash, dest string) error {
	path, err := s.objectPath(hexHash)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("blob %s not found in CAS: %w", hexHash, err)
	}
	if err := copyFile(path, dest); err != nil {
		return fmt.Errorf("could not restore blob %s to %s: %w", hexHash, dest, err)
	}
	s.metrics.Count("cas.fetch")
	return nil
}

// copyViaTemp copies src to dst by first copying to a temp file in dst's
// directory, then renaming into place, preserving the atomicity invariant
// for writers racing on the same hash.
func copyViaTemp(src, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	in, err := os.Open(src)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	_, copyErr := io.Copy(tmp, in)
	in.Close()
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpName)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return closeErr
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// copyFile copies src to dst directly, overwriting dst. Used for restoring
// from the CAS, where dst is a user-visible output path rather than another
// CAS slot, so no rename dance is needed.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
