// Package blobstore stores uploaded raw files by name. It defines the
// BlobStore interface, a filesystem implementation used by the server and an
// in-memory implementation suitable for testing and development.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidName  = errors.New("invalid blob name")
)

// MaxFileSize is the maximum allowed blob size in bytes (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// BlobStore interface
// ---------------------------------------------------------------------------

// BlobStore defines the contract for raw file storage backends. Blobs are
// keyed by a flat name; Create never overwrites an existing blob.
type BlobStore interface {
	// Create stores content under name if no blob with that name exists.
	// It returns ErrBlobExists otherwise. Concurrent creates of the same name
	// have exactly one winner.
	Create(ctx context.Context, name string, content io.Reader) (*BlobMetadata, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, name string) (*BlobMetadata, error)
	Delete(ctx context.Context, name string) error
}

// ValidateName reports whether name can be used as a blob key. Names must be
// plain file names without directory components.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return ErrInvalidName
	case filepath.Base(name) != name:
		return ErrInvalidName
	}
	return nil
}

// readLimited reads content up to MaxFileSize.
func readLimited(content io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs: make(map[string]*storedBlob),
	}
}

// Create reads the content, computes a SHA-256 hash, and stores the blob in
// memory unless the name is taken.
func (s *InMemoryBlobStore) Create(_ context.Context, name string, content io.Reader) (*BlobMetadata, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	meta := BlobMetadata{
		Name:      name,
		Size:      int64(len(data)),
		Hash:      hashOf(data),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[name]; ok {
		return nil, ErrBlobExists
	}
	s.blobs[name] = &storedBlob{metadata: meta, content: data}

	out := meta // copy
	return &out, nil
}

// Open returns an io.ReadCloser over the blob content.
func (s *InMemoryBlobStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	blob, ok := s.blobs[name]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.content)), nil
}

// Stat returns blob metadata without content.
func (s *InMemoryBlobStore) Stat(_ context.Context, name string) (*BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[name]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata // copy
	return &meta, nil
}

// Delete removes a blob by name.
func (s *InMemoryBlobStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[name]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, name)
	return nil
}
