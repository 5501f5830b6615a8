package directory

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/store/kv"
)

// Source is a set of named files that can be copied into a Directory.
//
// *Directory is a Source, as are the local folder and S3 prefix sources in
// the source packages.
type Source interface {
	// List returns the names of all files of the source.
	List(ctx context.Context) ([]string, error)

	// OpenReader opens the content of one file.
	OpenReader(ctx context.Context, name string) (io.ReadCloser, error)
}

var _ Source = (*Directory)(nil)

// OpenReader opens name for reading. It is Open returning an io.ReadCloser.
func (d *Directory) OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	in, err := d.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return in, nil
}

// NewFromSource returns a Directory over store holding a copy of every file
// of src.
func NewFromSource(ctx context.Context, store kv.Store, src Source, opts ...Option) (*Directory, error) {
	d := New(store, opts...)
	if _, err := d.CopyFrom(ctx, src); err != nil {
		return nil, err
	}
	return d, nil
}

// CopyFrom creates a copy of every file of src, replacing files of the same
// name, and returns the number of files copied. It stops at the first
// failure; files copied until then stay.
func (d *Directory) CopyFrom(ctx context.Context, src Source) (int, error) {
	names, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list source: %w", err)
	}

	copied := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if err := d.copyFile(ctx, src, name); err != nil {
			return copied, err
		}
		copied++
	}

	logger.Info("directory: copied %d files", copied)
	return copied, nil
}

func (d *Directory) copyFile(ctx context.Context, src Source, name string) error {
	r, err := src.OpenReader(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	out, err := d.Create(ctx, name)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", name, err)
	}
	return out.Close()
}
