// Package core defines the object storage abstraction shared by the purge
// archive backends.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem represents the local filesystem implementation.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 represents an S3 / MinIO compatible implementation.
	DriverS3 Driver = "s3"
	// DriverMemory represents an in-memory implementation typically used in tests.
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string // small, flat key-value
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method string        // only GET is supported
	Expiry time.Duration // default 15m
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a create-only object store. Put fails with ErrExists when the key
// is taken; Get and Head fail with ErrNotFound for missing keys.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists is returned when writing to an existing key.
	ErrExists = errors.New("blobstore: already exists")
	// ErrInvalidKey is returned for empty, absolute or traversing keys.
	ErrInvalidKey = errors.New("blobstore: invalid key")
)

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
