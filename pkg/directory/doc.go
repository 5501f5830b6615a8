// Package directory implements a flat file store over a transactional
// key-value backend.
//
// A Directory exposes the operations an index library expects from its
// storage directory: list, exists, stat, touch, delete, create and open.
// Every file is one key in a kv.Store collection. The value is an
// immutable FileRecord version carrying the whole content in fixed-size
// chunks.
//
// Versioning:
// Nothing stored is ever modified in place. Writing through an
// OutputChannel, touching a file or recreating it commits a new record
// version with a compare-and-replace against the version the operation
// started from. Lost races surface as ErrTransactionConflict. A reader
// opened before a later commit keeps reading the version it opened.
//
// Handles:
// The Directory tracks the OutputChannel currently bound to each name.
// Deleting or recreating a file through the same Directory detaches the old
// channel, and further writes through it fail with ErrStaleHandle.
//
// Size Accounting:
// SizeInBytes is a local running total of the bytes created, flushed and
// deleted through this instance. It is exact only when this instance is the
// sole writer of the collection; Recount recomputes it from the backend.
//
// Thread Safety:
// Directory is safe for concurrent use. OutputChannel serializes its own
// calls. InputChannel, like most io.Reader implementations, must not be used
// from several goroutines at once; use Clone to read concurrently.
package directory
