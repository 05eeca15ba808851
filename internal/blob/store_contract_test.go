package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func contractStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
		"s3mock": NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, store := range contractStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte(`{"id":"a1"}`)
			info, err := store.Put(ctx, "purged/animals/a1.json", bytes.NewReader(payload), PutOptions{ContentType: "application/json"})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != "purged/animals/a1.json" || info.Size != int64(len(payload)) {
				t.Fatalf("unexpected info %+v", info)
			}
			if _, err := store.Put(ctx, "purged/animals/a1.json", bytes.NewReader(payload), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}

			_, rc, err := store.Get(ctx, "purged/animals/a1.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			got, _ := io.ReadAll(rc)
			_ = rc.Close()
			if !bytes.Equal(got, payload) {
				t.Fatalf("payload mismatch: %s", got)
			}

			if _, err := store.Put(ctx, "purged/cages/c1.json", bytes.NewReader([]byte("{}")), PutOptions{}); err != nil {
				t.Fatalf("put second: %v", err)
			}
			list, err := store.List(ctx, "purged/animals/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].Key != "purged/animals/a1.json" {
				t.Fatalf("unexpected list %+v", list)
			}

			if _, err := store.Head(ctx, "purged/animals/missing.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			ok, err := store.Delete(ctx, "purged/animals/a1.json")
			if err != nil || !ok {
				t.Fatalf("delete: ok=%v err=%v", ok, err)
			}
			ok, err = store.Delete(ctx, "purged/animals/a1.json")
			if err != nil || ok {
				t.Fatalf("second delete: ok=%v err=%v", ok, err)
			}
			if store.Driver() == "" {
				t.Fatalf("expected driver name")
			}
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("memory: %v %v", store, err)
	}
	store, err = Open(ctx, Config{FSRoot: t.TempDir()})
	if err != nil || store.Driver() != DriverFilesystem {
		t.Fatalf("default fs: %v %v", store, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestPresignSupport(t *testing.T) {
	ctx := context.Background()
	if _, err := NewMemory().PresignURL(ctx, "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("memory presign should be unsupported, got %v", err)
	}
	fsStore, _ := NewFilesystem(t.TempDir())
	if _, err := fsStore.PresignURL(ctx, "k", SignedURLOptions{Method: "PUT"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("fs PUT presign should be unsupported, got %v", err)
	}
	url, err := NewMockS3ForTests().PresignURL(ctx, "purged/x.json", SignedURLOptions{})
	if err != nil || url == "" {
		t.Fatalf("s3 presign: %q %v", url, err)
	}
}
