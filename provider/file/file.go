// Package file is the default hot-storage provider: one file per key under a
// root directory. Writes go through a temp file + rename so a crash never
// leaves a half-written entry behind a valid name.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	pr "github.com/unkn0wn-root/databank/provider"
)

const DefaultExt = ".hot"

type Config struct {
	Root string
	Ext  string // appended to every key; "" => DefaultExt
}

type Store struct {
	root string
	ext  string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

var _ pr.Provider = (*Store)(nil)

// New creates root (and parents) if absent.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("file provider: root required")
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("file provider: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("file provider: create root: %w", err)
	}
	ext := cfg.Ext
	if ext == "" {
		ext = DefaultExt
	}
	return &Store{root: abs, ext: ext, locks: make(map[string]*entryLock)}, nil
}

func (s *Store) Root() string { return s.root }

// Path returns the file backing key.
func (s *Store) Path(key string) (string, error) {
	rel := path.Clean("/" + key)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", pr.ErrInvalidKey
	}
	p := filepath.Join(s.root, filepath.FromSlash(rel)) + s.ext
	if !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", pr.ErrInvalidKey
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	p, err := s.Path(key)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := s.Path(key)
	if err != nil {
		return false, err
	}
	unlock := s.lockEntry(p)
	defer unlock()

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(dir, ".hot-*")
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(value)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return false, err
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	unlock := s.lockEntry(p)
	defer unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	// prune now-empty parents, never the root itself
	for dir := filepath.Dir(p); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// Clear removes every entry under root, including foreign files.
func (s *Store) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) lockEntry(p string) func() {
	s.mu.Lock()
	l := s.locks[p]
	if l == nil {
		l = &entryLock{}
		s.locks[p] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, p)
		}
		s.mu.Unlock()
	}
}
