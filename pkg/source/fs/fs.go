// Package fs copies files between a local folder and a directory.
//
// Source reads the regular files of a folder so that a directory can be
// seeded from an index on disk; Export writes every file of a directory
// back to a folder.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/directory"
	"github.com/natefinch/atomic"
)

// Source reads the regular files directly inside one folder.
// Subfolders, symlinks and other special files are skipped.
type Source struct {
	root string
}

var _ directory.Source = (*Source)(nil)

// New returns a Source over root, which must be an existing folder.
func New(root string) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access source folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a folder", root)
	}
	return &Source{root: root}, nil
}

// List returns the names of the regular files in the folder, sorted.
func (s *Source) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read source folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// OpenReader opens one file of the folder.
func (s *Source) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, fmt.Errorf("%q: %w", name, directory.ErrInvalidName)
	}

	f, err := os.Open(filepath.Join(s.root, name))
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, directory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// Export writes every file of src into the folder dest, creating it if
// needed. Each file is replaced atomically, so a reader of dest never sees
// a partially written file. Returns the number of files written.
func Export(ctx context.Context, src directory.Source, dest string) (int, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create export folder: %w", err)
	}

	names, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list files: %w", err)
	}

	written := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if !validName(name) {
			logger.Warn("fs export: skipping %q, not a valid file name", name)
			continue
		}
		if err := exportFile(ctx, src, name, filepath.Join(dest, name)); err != nil {
			return written, err
		}
		written++
	}

	logger.Info("fs export: wrote %d files to %s", written, dest)
	return written, nil
}

func exportFile(ctx context.Context, src directory.Source, name, path string) error {
	r, err := src.OpenReader(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := atomic.WriteFile(path, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// validName rejects names that would escape the folder.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`)
}
