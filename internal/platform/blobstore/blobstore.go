// Package blobstore archives transmitted fax artifacts. Archiving is
// optional; the send path treats a nil store as "archive disabled".
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
	ErrMissingKey   = errors.New("blob key is required")
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

type Metadata struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Hash        string            `json:"hash"`
	CreatedAt   time.Time         `json:"created_at"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// BlobStore is a create-only key/value store for binary artifacts.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, content io.Reader, tags map[string]string) (*Metadata, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Metadata, error)
}

// FaxKey returns the archive key for a transmission:
// <pharmacy>/<yyyy>/<mm>/<transmission-id>.pdf
func FaxKey(pharmacyID, transmissionID string, sentAt time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%s.pdf", pharmacyID, sentAt.Year(), int(sentAt.Month()), transmissionID)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata Metadata
	content  []byte
}

type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, key, contentType string, content io.Reader, tags map[string]string) (*Metadata, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return nil, ErrBlobExists
	}

	sum := sha256.Sum256(data)
	meta := Metadata{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
		Tags:        tags,
	}
	s.blobs[key] = &storedBlob{metadata: meta, content: data}
	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, key string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := b.metadata
	return io.NopCloser(bytes.NewReader(b.content)), &meta, nil
}

// Len reports the number of stored blobs.
func (s *InMemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
