package blob

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
)

// FSStore implements Store on an afero filesystem. Keys map to paths under root.
type FSStore struct {
	fs afero.Fs
}

// NewFSStore returns a store rooted at root on fs. Use afero.NewOsFs() for local disk
// and afero.NewMemMapFs() in tests.
func NewFSStore(fs afero.Fs, root string) *FSStore {
	if root != "" && root != "/" {
		fs = afero.NewBasePathFs(fs, root)
	}
	return &FSStore{fs: fs}
}

func (s *FSStore) path(key string) string {
	return filepath.FromSlash("/" + strings.TrimPrefix(key, "/"))
}

// Get opens the blob at key.
func (s *FSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrNotFound, "fs: %s", key)
		}
		return nil, eris.Wrapf(err, "fs: open %s", key)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close() //nolint:errcheck
		return nil, eris.Wrapf(ErrNotFound, "fs: %s is a directory", key)
	}
	return f, nil
}

// Put writes r to key through a temporary sibling and renames it into place, so
// readers never observe a partially written blob.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return eris.Wrapf(err, "fs: create parent for %s", key)
	}

	tmp := dst + ".part"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "fs: create %s", key)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()        //nolint:errcheck
		s.fs.Remove(tmp) //nolint:errcheck
		return eris.Wrapf(err, "fs: write %s", key)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp) //nolint:errcheck
		return eris.Wrapf(err, "fs: close %s", key)
	}
	if err := s.fs.Rename(tmp, dst); err != nil {
		return eris.Wrapf(err, "fs: rename %s", key)
	}
	return nil
}

// List returns every key under prefix.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimPrefix(prefix, "/")
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir)
	}
	if dir == "." {
		dir = ""
	}

	var keys []string
	err := afero.Walk(s.fs, s.path(dir), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || strings.HasSuffix(p, ".part") {
			return nil
		}
		key := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fs: list %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListPrefixes returns the child directory names directly under prefix.
func (s *FSStore) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, s.path(dirPrefix(prefix)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "fs: list prefixes %s", prefix)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
