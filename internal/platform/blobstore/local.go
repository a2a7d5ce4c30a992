package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalBlobStore keeps blobs as files in a single directory.
type LocalBlobStore struct {
	root string
}

// NewLocalBlobStore creates the root directory if needed and returns a store
// rooted there.
func NewLocalBlobStore(root string) (*LocalBlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blobstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", root, err)
	}
	return &LocalBlobStore{root: root}, nil
}

// Root returns the directory blobs are stored in.
func (s *LocalBlobStore) Root() string {
	return s.root
}

func (s *LocalBlobStore) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// Create writes content to a new file. The file is opened with O_EXCL so the
// existence check and the create are one filesystem operation. A partially
// written file is removed on error.
func (s *LocalBlobStore) Create(ctx context.Context, name string, content io.Reader) (*BlobMetadata, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := readLimited(content)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, ErrBlobExists
		}
		return nil, fmt.Errorf("blobstore: create %s: %w", name, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("blobstore: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return nil, fmt.Errorf("blobstore: close %s: %w", name, err)
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("blobstore: stat %s: %w", name, err)
	}
	return &BlobMetadata{
		Name:      name,
		Size:      int64(len(data)),
		Hash:      hashOf(data),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

// Open returns the file for reading. The caller must close it.
func (s *LocalBlobStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", name, err)
	}
	return f, nil
}

// Stat returns file metadata, hashing the content in a single streamed
// pass. Callers on request paths should use the checksum recorded at Create.
func (s *LocalBlobStore) Stat(_ context.Context, name string) (*BlobMetadata, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("blobstore: open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blobstore: stat %s: %w", name, err)
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("blobstore: hash %s: %w", name, err)
	}
	return &BlobMetadata{
		Name:      name,
		Size:      info.Size(),
		Hash:      hex.EncodeToString(h.Sum(nil)),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

// Delete removes the file.
func (s *LocalBlobStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("blobstore: delete %s: %w", name, err)
	}
	return nil
}
