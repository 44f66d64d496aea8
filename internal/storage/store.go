// Package storage is a content-addressed blob store for uploaded recordings.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phantompen/pen/internal/errors"
)

// DirName is the blob directory inside the data directory.
const DirName = "blobs"

// Blob identifies a stored object.
type Blob struct {
	ID   string `json:"storage_id"`
	Size int64  `json:"size_bytes"`
}

// Store keeps blobs at baseDir/<first two hex chars>/<sha256>.
type Store struct {
	baseDir string
}

// New creates the store directory if needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Put stores r and returns its content hash. Reading stops with
// PAYLOAD_TOO_LARGE once more than maxBytes arrive; maxBytes <= 0 means no
// limit. Storing identical content twice yields the same ID.
func (s *Store) Put(r io.Reader, maxBytes int64) (*Blob, error) {
	tmp, err := os.CreateTemp(s.baseDir, "upload-*")
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("failed to read upload: %v", err))
	}
	if maxBytes > 0 && size > maxBytes {
		return nil, errors.NewPayloadTooLarge(maxBytes)
	}
	if size == 0 {
		return nil, errors.NewInvalidRequest("upload is empty")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewInternal(err)
	}

	id := hex.EncodeToString(hasher.Sum(nil))
	path := s.path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create blob directory: %w", err))
	}
	if _, err := os.Stat(path); err == nil {
		return &Blob{ID: id, Size: size}, nil
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("move blob into place: %w", err))
	}
	return &Blob{ID: id, Size: size}, nil
}

// Open returns a reader for the blob. The caller closes it.
func (s *Store) Open(id string) (*os.File, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(id))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("blob", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return f, nil
}

// Read returns the blob contents.
func (s *Store) Read(id string) ([]byte, error) {
	f, err := s.Open(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return data, nil
}

// Exists reports whether the blob is stored.
func (s *Store) Exists(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.NewInternal(err)
}

// Delete removes the blob. Deleting a missing blob is not an error.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	path := s.path(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewInternal(fmt.Errorf("delete blob: %w", err))
	}
	// Drop the prefix directory when it is empty.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.baseDir, id[:2], id)
}

func validateID(id string) error {
	if len(id) != sha256.Size*2 {
		return errors.NewInvalidRequest("invalid storage id")
	}
	if _, err := hex.DecodeString(id); err != nil {
		return errors.NewInvalidRequest("invalid storage id")
	}
	return nil
}
