package kv

import "errors"

// These errors let the directory layer tell "the key is not there" apart
// from "the transaction could not be completed". Implementations wrap them
// with context:
//
//	return fmt.Errorf("key %s: %w", key, kv.ErrKeyNotFound)
var (
	// ErrKeyNotFound indicates Get addressed a key that is not present.
	ErrKeyNotFound = errors.New("key not found")

	// ErrConflict indicates Commit lost an optimistic-concurrency race:
	// a key read by the transaction was changed by another transaction
	// that committed first. Nothing was applied; callers may retry with
	// fresh data.
	ErrConflict = errors.New("transaction conflict")

	// ErrClosed indicates the store handle has been closed.
	ErrClosed = errors.New("store closed")

	// ErrReadOnlyTxn indicates a mutation was attempted inside a
	// read-only transaction.
	ErrReadOnlyTxn = errors.New("mutation in read-only transaction")

	// ErrTxnDone indicates the transaction was already committed or
	// discarded.
	ErrTxnDone = errors.New("transaction already finished")

	// ErrEmptyKey indicates an empty key was supplied.
	ErrEmptyKey = errors.New("empty key")

	// ErrValueTooLarge indicates a value exceeds what the backend can
	// store under one key.
	ErrValueTooLarge = errors.New("value too large")

	// ErrCorrupt indicates a stored value could not be decoded.
	ErrCorrupt = errors.New("corrupt value")
)
