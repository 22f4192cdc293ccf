package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestObjectPath(t *testing.T) {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	got := ObjectPath("hash_duplicate", 42, "/photos/2020/IMG_0123.jpg", "deadbeefcafe0123", now)
	want := "hash_duplicate/2026-08/IMG_0123_42_deadbeef.jpg"
	if got != want {
		t.Errorf("ObjectPath = %q, want %q", got, want)
	}

	// Short hashes are used whole.
	got = ObjectPath("manual", 1, "/a/b.png", "ab12", now)
	if got != "manual/2026-08/b_1_ab12.png" {
		t.Errorf("ObjectPath = %q", got)
	}
}

func TestFSStoreUploadOpenDelete(t *testing.T) {
	s := NewFSStore(t.TempDir())
	ctx := context.Background()

	if err := s.EnsureBucketExists(ctx, "hash_duplicate"); err != nil {
		t.Fatal(err)
	}

	path := "hash_duplicate/2026-08/img_1_deadbeef.jpg"
	stored, err := s.Upload(ctx, path, []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if stored != path {
		t.Errorf("stored path = %q, want %q", stored, path)
	}

	data, err := s.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("content = %q", data)
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open(ctx, path); !errors.Is(err, ErrNotArchived) {
		t.Errorf("Open after delete = %v, want ErrNotArchived", err)
	}
}

func TestFSStoreDeleteMissing(t *testing.T) {
	s := NewFSStore(t.TempDir())
	err := s.Delete(context.Background(), "manual/2026-08/never_1_abcd.jpg")
	if !errors.Is(err, ErrNotArchived) {
		t.Errorf("error = %v, want ErrNotArchived", err)
	}
}

func TestFSStoreUploadLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s := NewFSStore(root)
	ctx := context.Background()

	path := "hash_duplicate/2026-08/img_2_cafe0123.jpg"
	if _, err := s.Upload(ctx, path, []byte("x"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "hash_duplicate", "2026-08"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want exactly the uploaded file", len(entries))
	}
}

func TestFSStoreUploadCancelledContext(t *testing.T) {
	s := NewFSStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Upload(ctx, "manual/2026-08/a_1_ff.jpg", []byte("x"), ""); err == nil {
		t.Error("expected error for cancelled context")
	}
}
