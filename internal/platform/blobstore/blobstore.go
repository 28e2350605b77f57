// Package blobstore stores result artifacts uploaded by the central lab. It
// defines the Store interface, an in-memory implementation for development
// and tests, and an S3-compatible implementation.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrUnsupported        = errors.New("operation not supported by this store")
)

// MaxFileSize is the maximum allowed artifact size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// Scheme prefixes result references that point into a Store.
const Scheme = "blob://"

// AllowedContentTypes lists the formats lab reports are delivered in.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"text/plain":      true,
}

// Info describes a stored artifact.
type Info struct {
	Key         string    `json:"key"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref returns the reference stored on a sample request.
func (i Info) Ref() string {
	return Scheme + i.Key
}

// KeyFromRef extracts the object key from a reference. ok is false for
// references that do not point into a Store, such as external URLs.
func KeyFromRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, Scheme) {
		return "", false
	}
	key := strings.TrimPrefix(ref, Scheme)
	return key, key != ""
}

// Store is the contract for artifact backends.
type Store interface {
	Put(ctx context.Context, key string, content []byte, info Info) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// UploadResult validates an uploaded result file and stores it under a key
// scoped to the sample.
func UploadResult(ctx context.Context, s Store, sampleID, fileName, contentType string, content io.Reader) (Info, error) {
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return Info{}, ErrMissingFileName
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if !AllowedContentTypes[contentType] {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return Info{}, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return Info{}, ErrFileTooLarge
	}

	sum := sha256.Sum256(data)
	info := Info{
		Key:         ResultKey(sampleID, fileName),
		FileName:    fileName,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", sum),
		CreatedAt:   time.Now().UTC(),
	}
	return s.Put(ctx, info.Key, data, info)
}

// ResultKey returns results/<sampleID>/<random>-<fileName>.
func ResultKey(sampleID, fileName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, fileName)
	return fmt.Sprintf("results/%s/%s-%s", sampleID, uuid.New().String()[:8], name)
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	info    Info
	content []byte
}

// InMemoryBlobStore is a thread-safe Store for development and tests.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, key string, content []byte, info Info) (Info, error) {
	data := make([]byte, len(content))
	copy(data, content)
	info.Key = key
	info.Size = int64(len(data))
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{info: info, content: data}
	s.mu.Unlock()
	return info, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, key string) (io.ReadCloser, Info, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, Info{}, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.content)), blob.info, nil
}

// PresignURL is not available in memory; callers stream via Get instead.
func (s *InMemoryBlobStore) PresignURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "", ErrUnsupported
}
