package artifacts

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStore_DefaultIsFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	store, err := NewStore(context.Background(), Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	fs, ok := store.(*FileStore)
	if !ok {
		t.Fatalf("Expected *FileStore, got %T", store)
	}
	if fs.baseDir != dir {
		t.Errorf("Expected baseDir %s, got %s", dir, fs.baseDir)
	}
}

func TestNewStore_S3MissingBucket(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: StoreTypeS3})
	if err == nil || !strings.Contains(err.Error(), "s3 bucket is required") {
		t.Fatalf("Expected missing bucket error, got: %v", err)
	}
}

func TestNewStore_GCSMissingBucket(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: StoreTypeGCS})
	if err == nil || !strings.Contains(err.Error(), "gcs bucket is required") {
		t.Fatalf("Expected missing bucket error, got: %v", err)
	}
}

func TestNewStore_GCSBuildTag(t *testing.T) {
	if gcsEnabled {
		t.Skip("built with gcp tag")
	}
	_, err := NewStore(context.Background(), Config{Type: StoreTypeGCS, GCSBucket: "audit"})
	if !errors.Is(err, ErrGCSDisabled) {
		t.Fatalf("Expected ErrGCSDisabled, got: %v", err)
	}
}

func TestNewStore_UnsupportedType(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: "azure"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage type") {
		t.Fatalf("Expected unsupported type error, got: %v", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()
	data := []byte(`{"decisions":[]}`)

	hash, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("Expected sha256: prefix, got %s", hash)
	}
	again, err := store.Put(ctx, data)
	if err != nil || again != hash {
		t.Errorf("Expected idempotent put, got %s (%v)", again, err)
	}

	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Expected %q, got %q", data, got)
	}

	ok, err := store.Exists(ctx, hash)
	if err != nil || !ok {
		t.Errorf("Expected artifact to exist, got %v (%v)", ok, err)
	}
	if err := store.Delete(ctx, hash); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStore_InvalidHash(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	for _, h := range []string{"invalid-hash", "sha256:zz", "sha256:abcd"} {
		if _, err := store.Get(context.Background(), h); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Get(%q): expected ErrInvalidHash, got %v", h, err)
		}
	}
}
