package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ojsubmit/internal/common/storage"
)

func TestMemoryStorageLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewMemoryStorage()

	if err := s.PutObject(ctx, "oj", "src/1", strings.NewReader("int main(){}"), -1, "text/plain"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	stat, err := s.StatObject(ctx, "oj", "src/1")
	if err != nil || stat.SizeBytes != 12 || stat.ContentType != "text/plain" || stat.ETag == "" {
		t.Fatalf("unexpected stat %+v err=%v", stat, err)
	}
	rc, err := s.GetObject(ctx, "oj", "src/1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "int main(){}" {
		t.Fatalf("unexpected body %q", data)
	}

	if _, err := s.GetObject(ctx, "other", "src/1"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("buckets must be isolated, got %v", err)
	}
	if err := s.RemoveObject(ctx, "oj", "src/1"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := s.StatObject(ctx, "oj", "src/1"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestMemoryStorageHonorsSize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	if err := s.PutObject(ctx, "oj", "k", strings.NewReader("abcdef"), 3, ""); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	stat, _ := s.StatObject(ctx, "oj", "k")
	if stat.SizeBytes != 3 {
		t.Fatalf("expected 3 bytes, got %d", stat.SizeBytes)
	}
}
