package cas

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// tempFileClose is a function variable for closing temp files (for testing).
var tempFileClose = func(f io.Closer) error {
	return f.Close()
}

// ErrDocumentNotFound is returned when no document has the given digest.
var ErrDocumentNotFound = errors.New("document not found")

// ErrInvalidDigest is returned when a digest string is not 64 lowercase hex characters.
var ErrInvalidDigest = errors.New("invalid digest format")

// Store archives source documents under their BLAKE3 digest.
// Layout: <root>/documents/<first2>/<blake3>.
type Store struct {
	root string
}

// NewStore creates a document archive at root, creating directories as needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "documents"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Put archives data and returns its digest. Storing the same bytes twice is
// a no-op.
func (s *Store) Put(data []byte) (Digest, error) {
	d := Hash(data)
	path := s.pathFor(d.BLAKE3)
	if _, err := os.Stat(path); err == nil {
		return d, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Digest{}, fmt.Errorf("failed to create prefix directory: %w", err)
	}

	// Write atomically
	tempFile, err := os.CreateTemp(dir, ".doc-*")
	if err != nil {
		return Digest{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, data); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return Digest{}, fmt.Errorf("failed to write document: %w", err)
	}
	if err := tempFileClose(tempFile); err != nil {
		os.Remove(tempPath)
		return Digest{}, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := osRename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return Digest{}, fmt.Errorf("failed to rename document: %w", err)
	}
	return d, nil
}

// Get returns the document with the given BLAKE3 digest.
func (s *Store) Get(blake3Hex string) ([]byte, error) {
	if !ValidDigest(blake3Hex) {
		return nil, ErrInvalidDigest
	}
	data, err := os.ReadFile(s.pathFor(blake3Hex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Has reports whether a document with the digest is archived.
func (s *Store) Has(blake3Hex string) bool {
	if !ValidDigest(blake3Hex) {
		return false
	}
	_, err := os.Stat(s.pathFor(blake3Hex))
	return err == nil
}

func (s *Store) pathFor(blake3Hex string) string {
	return filepath.Join(s.root, "documents", blake3Hex[:2], blake3Hex)
}
