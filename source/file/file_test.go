package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/databank"
	"github.com/unkn0wn-root/databank/codec"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestScanDerivesKeys(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "mesh", "rock.bin"), "r")
	writeFile(t, filepath.Join(root, "mesh", "lod", "tree"), "t")
	writeFile(t, filepath.Join(root, ".git", "HEAD"), "x")
	writeFile(t, filepath.Join(root, ".hidden"), "x")

	entries, err := Scan(root, ':')
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := map[string]string{}
	for _, e := range entries {
		got[e.Key] = e.Path
	}
	if len(got) != 2 || got["mesh:rock.bin"] == "" || got["mesh:lod:tree"] == "" {
		t.Fatalf("entries %v", got)
	}
}

func TestScanReportsCollisions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.b"), "1")
	writeFile(t, filepath.Join(root, "a", "b"), "2")

	entries, err := Scan(root, '.')
	if err == nil || len(entries) != 1 {
		t.Fatalf("expected one entry and a collision error, got %d entries, err=%v", len(entries), err)
	}
}

func TestLoaderReadsAndBounds(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	path := filepath.Join(root, "f.tmp")
	writeFile(t, path, "0123456789")

	b, err := Loader{VolatileExt: []string{".TMP"}}.Load(ctx, "f", Source{Path: path})
	if err != nil || string(b.Data) != "0123456789" || !b.Volatile || b.ShouldBeSerialized() {
		t.Fatalf("Load: b=%+v err=%v", b, err)
	}
	if _, err := (Loader{MaxSize: 4}).Load(ctx, "f", Source{Path: path}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := (Loader{}).Load(ctx, "f", &Source{Path: path}); err != nil {
		t.Fatalf("pointer source: %v", err)
	}
}

func TestModifiedAtFollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	writeFile(t, path, "x")
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, want, want); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	got, ok := Source{Path: path}.ModifiedAt()
	if !ok || !got.Equal(want) {
		t.Fatalf("ModifiedAt = %v, %v", got, ok)
	}
	if mt, ok := (Source{Path: path + ".missing"}).ModifiedAt(); !ok || !mt.IsZero() {
		t.Fatalf("missing file: %v %v", mt, ok)
	}
}

func TestBankReloadsAfterFileChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	writeFile(t, path, "v1")
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(path, old, old)

	b, err := databank.New[*Blob](databank.Options[*Blob]{
		Loader:         Loader{},
		Codec:          codec.Msgpack[*Blob]{},
		HotStorageRoot: filepath.Join(dir, "hot"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close(ctx)

	if err := b.Add(ctx, "doc", Source{Path: path}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Serialize("doc", databank.Immediately); err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	writeFile(t, path, "v2")
	now := time.Now()
	_ = os.Chtimes(path, now, now)

	got, err := b.Data(ctx, "doc")
	if err != nil {
		t.Fatalf("Data after change: %v", err)
	}
	if string(got.Data) != "v2" {
		t.Fatalf("Data after change = %q, want v2", got.Data)
	}
}
