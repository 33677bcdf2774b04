// Package file backs bank items with files on disk: a Source whose
// modification time is the file's mtime, a Blob value holding the file's
// bytes, and a Loader that reads one into the other.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/unkn0wn-root/databank"
)

// Source is a file on disk.
type Source struct {
	Path string
}

var _ databank.Source = Source{}

// ModifiedAt reports the file's mtime. A missing or unreadable file reports
// the zero time, so no stored copy matches it.
func (s Source) ModifiedAt() (time.Time, bool) {
	fi, err := os.Stat(s.Path)
	if err != nil {
		return time.Time{}, true
	}
	return fi.ModTime(), true
}

// Blob is a file's content held in memory.
type Blob struct {
	Path string `msgpack:"path" json:"path"`
	Data []byte `msgpack:"data" json:"data"`
	// Volatile blobs never go to hot storage.
	Volatile bool `msgpack:"-" json:"-"`
}

var _ databank.Data = (*Blob)(nil)

func (b *Blob) SizeInMemory() int64      { return int64(len(b.Data)) }
func (b *Blob) AboutToUnload()           {}
func (b *Blob) ShouldBeSerialized() bool { return !b.Volatile }

// ErrTooLarge is returned by Loader when a file exceeds MaxSize.
var ErrTooLarge = errors.New("file source: file too large")

// Loader reads Blobs from Sources. MaxSize bounds a single file; 0 means no
// bound. Files matching VolatileExt are loaded as volatile.
type Loader struct {
	MaxSize     int64
	VolatileExt []string
}

var _ databank.Loader[*Blob] = Loader{}

func (l Loader) Load(ctx context.Context, key string, src databank.Source) (*Blob, error) {
	s, ok := src.(Source)
	if !ok {
		if p, isPtr := src.(*Source); isPtr && p != nil {
			s, ok = *p, true
		}
	}
	if !ok {
		return nil, fmt.Errorf("file source: %q: unsupported source %T", key, src)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if l.MaxSize > 0 {
		r = io.LimitReader(f, l.MaxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if l.MaxSize > 0 && int64(len(data)) > l.MaxSize {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, s.Path)
	}
	return &Blob{Path: s.Path, Data: data, Volatile: l.volatile(s.Path)}, nil
}

func (l Loader) volatile(path string) bool {
	ext := filepath.Ext(path)
	for _, v := range l.VolatileExt {
		if strings.EqualFold(ext, v) {
			return true
		}
	}
	return false
}

// Entry pairs a bank key with the file it was derived from.
type Entry struct {
	Key  string
	Path string
}

// KeyFor derives the bank key of path under root: the relative path with
// directory separators replaced by sep. Hidden files and directories are
// rejected.
func KeyFor(root, path string, sep rune) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("file source: %s is outside %s", path, root)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, p := range parts {
		if strings.HasPrefix(p, ".") {
			return "", fmt.Errorf("file source: hidden path %s", rel)
		}
	}
	return strings.Join(parts, string(sep)), nil
}

// Scan lists every regular file under root with its key. Files whose keys
// collide are reported and skipped.
func Scan(root string, sep rune) ([]Entry, error) {
	var (
		out  []Entry
		errs []error
		seen = make(map[string]string)
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		key, err := KeyFor(root, path, sep)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if prev, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("file source: %s and %s both map to %q", prev, path, key))
			return nil
		}
		seen[key] = path
		out = append(out, Entry{Key: key, Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, errors.Join(errs...)
}
