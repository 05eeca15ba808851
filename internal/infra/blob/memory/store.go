// Package memory implements an in-memory blob Store for tests and ephemeral
// deployments.
package memory

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // etag only
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"vivarium/internal/blob/core"
)

type blobEntry struct {
	info core.Info
	data []byte
}

// Store implements core.Store backed by process memory.
type Store struct {
	mu   sync.RWMutex
	objs map[string]blobEntry
	now  func() time.Time
}

// New returns an in-memory blob store.
func New() *Store {
	return &Store{objs: make(map[string]blobEntry), now: func() time.Time { return time.Now().UTC() }}
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a new blob; errors if key exists.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if strings.TrimSpace(key) == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	sum := md5.Sum(b) //nolint:gosec
	info := core.Info{
		Key:          key,
		Size:         int64(len(b)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: s.now(),
	}
	s.objs[key] = blobEntry{info: info, data: b}
	return copyInfo(info), nil
}

// Get returns blob metadata and a read closer to its content.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	data := append([]byte(nil), obj.data...)
	return copyInfo(obj.info), io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns blob metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	s.mu.RLock()
	obj, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return copyInfo(obj.info), nil
}

// Delete removes the blob returning true if it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	delete(s.objs, key)
	return ok, nil
}

// List returns all blobs matching prefix ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Info, 0, len(s.objs))
	for k, v := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(v.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL returns unsupported for memory driver.
func (s *Store) PresignURL(_ context.Context, _ string, _ core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func copyInfo(in core.Info) core.Info {
	in.Metadata = core.CloneMetadata(in.Metadata)
	return in
}
