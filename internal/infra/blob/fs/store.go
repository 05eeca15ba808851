// Package fs implements a blob Store on a local directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vivarium/internal/blob/core"
)

const metaSuffix = ".meta"

// Store implements core.Store using the local filesystem.
// Keys map to relative file paths under the root; a JSON sidecar
// (filename + ".meta") stores content type, etag and user metadata.
type Store struct {
	root string
}

// New returns a filesystem-backed blob store rooted at path, creating it if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Driver returns the blob driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory backing the store.
func (s *Store) Root() string { return s.root }

// sanitizeKey rejects empty, absolute and traversing keys.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key: %w", core.ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("key %q contains '..': %w", key, core.ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("absolute key %q: %w", key, core.ErrInvalidKey)
	}
	if strings.HasSuffix(key, metaSuffix) {
		return "", fmt.Errorf("key suffix %s: %w", metaSuffix, core.ErrInvalidKey)
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (s *Store) pathFor(key string) (dataPath, metaPath string, err error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	dataPath = filepath.Join(s.root, filepath.FromSlash(k))
	return dataPath, dataPath + metaSuffix, nil
}

type metaFile struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (s *Store) info(key string, mf metaFile) core.Info {
	return core.Info{
		Key:          key,
		Size:         mf.Size,
		ContentType:  mf.ContentType,
		ETag:         mf.ETag,
		Metadata:     core.CloneMetadata(mf.Metadata),
		LastModified: mf.CreatedAt,
		URL:          s.localURL(key),
	}
}

// Put streams r to a temp file and renames it into place.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Stat(dataPath); err == nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o750); err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Info{}, err
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return core.Info{}, err
	}
	mf := metaFile{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	if err := writeMeta(metaPath, mf); err != nil {
		return core.Info{}, err
	}
	return s.info(key, mf), nil
}

// Get opens the blob for reading.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	file, err := os.Open(dataPath) //nolint:gosec // path sanitized
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	mf, err := readMeta(metaPath)
	if err != nil {
		_ = file.Close()
		return core.Info{}, nil, err
	}
	return s.info(key, mf), file, nil
}

// Head returns blob metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	_, metaPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	mf, err := readMeta(metaPath)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, err
	}
	return s.info(key, mf), nil
}

// Delete removes the blob and its sidecar.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	dataPath, metaPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root collecting sidecars whose key has prefix.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(path, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		mf, err := readMeta(path)
		if err != nil {
			return err
		}
		infos = append(infos, s.info(key, mf))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// PresignURL returns an unauthenticated local URL for GET.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	if _, err := sanitizeKey(key); err != nil {
		return "", err
	}
	return s.localURL(key), nil
}

func (s *Store) localURL(key string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, key))}).String()
}

func writeMeta(path string, mf metaFile) error {
	b, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readMeta(path string) (metaFile, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path sanitized
	if err != nil {
		return metaFile{}, err
	}
	var mf metaFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return metaFile{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return mf, nil
}
