package files

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestResolverRejectsEscape(t *testing.T) {
	r := Resolver{Root: t.TempDir()}
	cases := []string{"../outside.txt", "a/../../outside", "../../etc/passwd"}
	for _, path := range cases {
		if _, err := r.Resolve(path); err == nil {
			t.Fatalf("%q resolved outside the workspace", path)
		}
	}
}

func TestResolverAcceptsRootedPaths(t *testing.T) {
	r := Resolver{Root: t.TempDir()}
	for _, path := range []string{"a.txt", "/a.txt", "sub/dir/a.txt", "a/../b.txt", ""} {
		if _, err := r.Resolve(path); err != nil {
			t.Fatalf("%q rejected: %v", path, err)
		}
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Workspace: t.TempDir(), MaxReadBytes: 16}, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestReadWriteRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.WriteFile(ctx, "notes/today.txt", "hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := svc.ReadFile(ctx, "notes/today.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello" {
		t.Fatalf("content = %q", got)
	}
}

func TestReadTruncatesAtLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	long := strings.Repeat("x", 100)
	if err := svc.WriteFile(ctx, "big.txt", long); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := svc.ReadFile(ctx, "big.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 16 {
		t.Fatalf("len = %d, want the 16 byte limit", len(got))
	}
}

func TestReadMissingFile(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.ReadFile(context.Background(), "absent.txt")
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestListDirectoryOrdersDirsFirst(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.WriteFile(ctx, "zebra.txt", "z"); err != nil {
		t.Fatal(err)
	}
	if err := svc.WriteFile(ctx, "Apple.txt", "a"); err != nil {
		t.Fatal(err)
	}
	if err := svc.CreateDirectory(ctx, "sub"); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.ListDirectory(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if !entries[0].IsDir || entries[0].Name != "sub" {
		t.Fatalf("first entry = %+v, want the directory", entries[0])
	}
	if entries[1].Name != "Apple.txt" || entries[2].Name != "zebra.txt" {
		t.Fatalf("file order = %s, %s", entries[1].Name, entries[2].Name)
	}
}

func TestDeleteFile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.WriteFile(ctx, "gone.txt", "x"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteFile(ctx, "gone.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteFile(ctx, "gone.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("second delete err = %v, want ErrFileNotFound", err)
	}
}

func TestDeleteDirectoryTree(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if err := svc.WriteFile(ctx, "tree/deep/file.txt", "x"); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteFile(ctx, "tree"); err != nil {
		t.Fatalf("delete tree: %v", err)
	}
	if _, err := svc.ReadFile(ctx, "tree/deep/file.txt"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestWatchReportsWorkspaceChanges(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := svc.Watch(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := svc.WriteFile(ctx, "observed.txt", "x"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed before the change arrived")
			}
			if ev.Path == "observed.txt" {
				if ev.Op != "create" && ev.Op != "write" {
					t.Fatalf("op = %q, want create or write", ev.Op)
				}
				return
			}
		case <-deadline:
			t.Fatal("no change event for observed.txt")
		}
	}
}
