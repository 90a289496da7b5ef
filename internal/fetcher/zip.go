package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// SpoolToFile copies r into a new file named name under dir and returns its path.
// Archives are spooled to disk so they can be opened with random access
// without holding the whole archive in memory.
func SpoolToFile(r io.Reader, dir, name string) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, eris.Wrapf(err, "zip: create spool dir %s", dir)
	}
	out, err := os.CreateTemp(dir, name+".*")
	if err != nil {
		return "", 0, eris.Wrap(err, "zip: create spool file")
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out.Name()) //nolint:errcheck
		return "", n, eris.Wrap(err, "zip: write spool file")
	}
	return out.Name(), n, nil
}

// OpenZIP opens the archive at zipPath.
func OpenZIP(zipPath string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open archive %s", filepath.Base(zipPath))
	}
	return r, nil
}

// FindZIPEntry returns the first regular file whose base name matches name
// case-insensitively, so "sub.txt" matches both "sub.txt" and "2024q1/SUB.TXT".
// Returns nil if no entry matches.
func FindZIPEntry(r *zip.Reader, name string) *zip.File {
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Base(f.Name), name) {
			return f
		}
	}
	return nil
}
