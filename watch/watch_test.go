package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/codec"
	"github.com/unkn0wn-root/databank/source/file"
)

func newBank(t *testing.T) databank.Bank[*file.Blob] {
	t.Helper()
	b, err := databank.New[*file.Blob](databank.Options[*file.Blob]{
		Loader:         file.Loader{},
		Codec:          codec.Msgpack[*file.Blob]{},
		HotStorageRoot: filepath.Join(t.TempDir(), "hot"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func startWatcher(t *testing.T, b databank.Bank[*file.Blob], root string) *Watcher[*file.Blob] {
	t.Helper()
	w, err := New(b, root, Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("watch.New: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func write(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewRejectsMissingRoot(t *testing.T) {
	b := newBank(t)
	if w, err := New(b, "/nonexistent/path/that/does/not/exist", Options{}); err == nil {
		w.Stop()
		t.Fatal("expected error for missing root")
	}
}

func TestSyncRegistersExistingFiles(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "a", "one"), "1")
	write(t, filepath.Join(root, "two"), "2")

	b := newBank(t)
	w := startWatcher(t, b, root)
	n, err := w.Sync(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Sync = %d, %v", n, err)
	}
	if !b.Has("a.one") || !b.Has("two") {
		t.Fatalf("keys %v", b.AllItems())
	}
	if n, _ := w.Sync(context.Background()); n != 0 {
		t.Fatalf("second Sync added %d", n)
	}
}

func TestCreatedFileIsRegistered(t *testing.T) {
	root := t.TempDir()
	b := newBank(t)
	startWatcher(t, b, root)

	write(t, filepath.Join(root, "fresh"), "x")
	eventually(t, "fresh registered", func() bool { return b.Has("fresh") })
}

func TestFilesInNewDirectoryAreRegistered(t *testing.T) {
	root := t.TempDir()
	b := newBank(t)
	startWatcher(t, b, root)

	if err := os.MkdirAll(filepath.Join(root, "d", "e"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	write(t, filepath.Join(root, "d", "e", "f"), "x")
	eventually(t, "d.e.f registered", func() bool { return b.Has("d.e.f") })
}

func TestChangedFileIsReloaded(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "doc")
	write(t, path, "v1")

	b := newBank(t)
	w := startWatcher(t, b, root)
	if _, err := w.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if v, err := b.Data(ctx, "doc"); err != nil || string(v.Data) != "v1" {
		t.Fatalf("Data: %v", err)
	}

	write(t, path, "v2-longer")
	eventually(t, "doc reloaded", func() bool {
		if !b.IsLoaded("doc") {
			return false
		}
		v, err := b.Data(ctx, "doc")
		return err == nil && string(v.Data) == "v2-longer"
	})
}

func TestRemovedFileIsUnregistered(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone")
	write(t, path, "x")

	b := newBank(t)
	w := startWatcher(t, b, root)
	if _, err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	eventually(t, "gone removed", func() bool { return !b.Has("gone") })
}

func TestRemovedDirectoryUnregistersChildren(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "dir", "a"), "1")
	write(t, filepath.Join(root, "dir", "b"), "2")

	b := newBank(t)
	w := startWatcher(t, b, root)
	if _, err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(root, "dir")); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	eventually(t, "dir children removed", func() bool { return len(b.AllItems()) == 0 })
}

func TestStopIsIdempotent(t *testing.T) {
	b := newBank(t)
	w, err := New(b, t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopWaitsForEventLoop(t *testing.T) {
	root := t.TempDir()
	b := newBank(t)
	w, err := New(b, root, Options{Debounce: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	write(t, filepath.Join(root, "late"), "x")
	time.Sleep(100 * time.Millisecond)
	if b.Has("late") {
		t.Fatalf("file written after Stop was registered")
	}
	select {
	case <-w.Applied():
		t.Fatalf("a batch was applied after Stop")
	default:
	}
}
