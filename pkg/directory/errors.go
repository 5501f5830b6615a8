package directory

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittodir/pkg/store/kv"
)

// ============================================================================
// Directory Errors
// ============================================================================

// These errors are the directory's whole failure vocabulary. Every error
// returned by this package matches exactly one of them under errors.Is
// (context cancellation aside), and carries the file name as context:
//
//	if _, err := dir.Open(ctx, "segments_3"); errors.Is(err, directory.ErrNotFound) {
//	    // expected: the commit point was pruned
//	}
//
// NotFound and TransactionConflict are expected, recoverable outcomes.
// BackendUnavailable usually ends the current operation and should be
// surfaced, not swallowed.
var (
	// ErrNotFound indicates the operation addressed a name with no live
	// record (Stat, Touch, Delete, Open, FileLength, FileModified).
	ErrNotFound = errors.New("file not found")

	// ErrTransactionConflict indicates a compare-and-replace lost a race
	// against another writer of the same name and was not retried.
	//
	// Callers should re-read and retry, e.g. call Create again.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrStoreClosed indicates the directory has been closed.
	ErrStoreClosed = errors.New("directory closed")

	// ErrEndOfStream indicates a read or seek past the content length.
	//
	// It is io.EOF itself so that io.ReadAll, io.Copy and friends treat the
	// end of an InputChannel like the end of any other reader.
	ErrEndOfStream = io.EOF

	// ErrBackendUnavailable indicates the transactional backend could not
	// complete the operation. The backend's own error stays in the chain.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrStaleHandle indicates a write through an OutputChannel whose file
	// has since been deleted or overwritten.
	ErrStaleHandle = errors.New("stale file handle")

	// ErrClosedChannel indicates use of an InputChannel or OutputChannel
	// after Close.
	ErrClosedChannel = errors.New("channel closed")

	// ErrInvalidName indicates a name that cannot be stored: empty, or
	// containing a NUL byte. Create and Source readers fail with it;
	// Exists, Stat, Open, Touch and Delete treat such names as absent.
	ErrInvalidName = errors.New("invalid file name")

	// ErrIntegrity indicates stored content failed checksum verification,
	// lost one of its chunks, or could not be decoded.
	ErrIntegrity = errors.New("integrity check failed")
)

// errChunkMissing marks a header whose chunks are not all present. Open
// retries on it, since a concurrent Create or Delete may have removed the
// chunks between two reads of a backend without snapshot reads.
var errChunkMissing = fmt.Errorf("chunk missing: %w", ErrIntegrity)

func isKeyNotFound(err error) bool {
	return errors.Is(err, kv.ErrKeyNotFound)
}

// sentinels lists the errors translate passes through untouched.
var sentinels = []error{
	ErrNotFound,
	ErrTransactionConflict,
	ErrStoreClosed,
	ErrStaleHandle,
	ErrClosedChannel,
	ErrInvalidName,
	ErrIntegrity,
	ErrBackendUnavailable,
}

// translate maps a backend error into the directory vocabulary.
func translate(name string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, kv.ErrCorrupt):
		return fmt.Errorf("%s: %w: %w", name, ErrIntegrity, err)
	case errors.Is(err, kv.ErrKeyNotFound):
		return fmt.Errorf("%s: %w: %w", name, ErrNotFound, err)
	case errors.Is(err, kv.ErrConflict):
		return fmt.Errorf("%s: %w: %w", name, ErrTransactionConflict, err)
	default:
		return fmt.Errorf("%s: %w: %w", name, ErrBackendUnavailable, err)
	}
}
