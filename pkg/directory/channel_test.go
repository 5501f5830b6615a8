package directory

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputChannelLength(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t, WithFlushThreshold(8))

		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", out.Name())

		_, err = out.Write([]byte("abc"))
		require.NoError(t, err)
		assert.Equal(t, int64(3), out.Length())

		// Still buffered.
		length, err := d.FileLength(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, length)
		assert.Zero(t, d.SizeInBytes())

		require.NoError(t, out.Flush(ctx))
		length, err = d.FileLength(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(3), length)
		assert.Equal(t, int64(3), d.SizeInBytes())

		// Crossing the threshold commits without an explicit flush.
		_, err = out.Write([]byte("defghijk"))
		require.NoError(t, err)
		length, err = d.FileLength(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(11), length)

		require.NoError(t, out.Close())
		assert.Equal(t, []byte("abcdefghijk"), readFile(t, d, "a"))
	})
}

func TestOutputChannelClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, out.Close())
		require.NoError(t, out.Close(), "second Close is a no-op")

		_, err = out.Write([]byte("x"))
		assert.ErrorIs(t, err, ErrClosedChannel)
		assert.ErrorIs(t, out.Flush(ctx), ErrClosedChannel)
	})
}

func TestOutputChannelStaleAfterDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		_, err = out.Write([]byte("abc"))
		require.NoError(t, err)

		require.NoError(t, d.Delete(ctx, "a"))

		_, err = out.Write([]byte("more"))
		assert.ErrorIs(t, err, ErrStaleHandle)
		assert.ErrorIs(t, out.Flush(ctx), ErrStaleHandle)
		assert.ErrorIs(t, out.Close(), ErrStaleHandle)

		exists, err := d.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, exists, "a stale channel must not resurrect the file")
	})
}

func TestOutputChannelStaleAfterRecreate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		first, err := d.Create(ctx, "a")
		require.NoError(t, err)
		second, err := d.Create(ctx, "a")
		require.NoError(t, err)

		_, err = first.Write([]byte("old"))
		assert.ErrorIs(t, err, ErrStaleHandle)

		_, err = second.Write([]byte("new"))
		require.NoError(t, err)
		require.NoError(t, second.Close())

		// Closing the stale channel must not unregister the live one.
		require.NoError(t, first.Close())
		assert.Equal(t, []byte("new"), readFile(t, d, "a"))
	})
}

func TestOutputChannelRemoteChanges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stores := f.open(t, 2)
		d := New(stores[0])
		other := New(stores[1])

		t.Run("replaced", func(t *testing.T) {
			out, err := d.Create(ctx, "a")
			require.NoError(t, err)
			writeFile(t, other, "a", []byte("theirs"))

			_, err = out.Write([]byte("mine"))
			require.NoError(t, err)
			assert.ErrorIs(t, out.Flush(ctx), ErrTransactionConflict)
			assert.Equal(t, []byte("theirs"), readFile(t, d, "a"))
		})

		t.Run("deleted", func(t *testing.T) {
			out, err := d.Create(ctx, "b")
			require.NoError(t, err)
			require.NoError(t, other.Delete(ctx, "b"))

			_, err = out.Write([]byte("mine"))
			require.NoError(t, err)
			assert.ErrorIs(t, out.Flush(ctx), ErrStaleHandle)

			_, err = out.Write([]byte("more"))
			assert.ErrorIs(t, err, ErrStaleHandle)
		})
	})
}

func TestTouchConflictsWithOpenWriter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		require.NoError(t, d.Touch(ctx, "a"))

		_, err = out.Write([]byte("x"))
		require.NoError(t, err)
		assert.ErrorIs(t, out.Flush(ctx), ErrTransactionConflict)
	})
}

func TestInputChannelSnapshot(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t, WithChunkSize(4))

		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		_, err = out.Write([]byte("hello"))
		require.NoError(t, err)
		require.NoError(t, out.Flush(ctx))

		in, err := d.Open(ctx, "a")
		require.NoError(t, err)

		_, err = out.Write([]byte(" world"))
		require.NoError(t, err)
		require.NoError(t, out.Close())

		data, err := io.ReadAll(in)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data, "an open reader keeps its version")
		assert.Equal(t, []byte("hello world"), readFile(t, d, "a"))
	})
}

func TestInputChannelReads(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t, WithChunkSize(3))
		writeFile(t, d, "a", []byte("0123456789"))

		in, err := d.Open(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", in.Name())
		assert.Equal(t, int64(10), in.Length())

		t.Run("sequential", func(t *testing.T) {
			buf := make([]byte, 4)
			n, err := in.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, "0123", string(buf[:n]))

			b, err := in.ReadByte()
			require.NoError(t, err)
			assert.Equal(t, byte('4'), b)
			assert.Equal(t, int64(5), in.Position())
		})

		t.Run("read at", func(t *testing.T) {
			buf := make([]byte, 5)
			n, err := in.ReadAt(buf, 2)
			require.NoError(t, err)
			assert.Equal(t, "23456", string(buf[:n]))

			n, err = in.ReadAt(buf, 8)
			assert.ErrorIs(t, err, ErrEndOfStream)
			assert.Equal(t, "89", string(buf[:n]))

			_, err = in.ReadAt(buf, 10)
			assert.ErrorIs(t, err, io.EOF)
			assert.Equal(t, int64(5), in.Position(), "ReadAt must not move the position")
		})

		t.Run("seek", func(t *testing.T) {
			pos, err := in.Seek(-2, io.SeekEnd)
			require.NoError(t, err)
			assert.Equal(t, int64(8), pos)

			rest, err := io.ReadAll(in)
			require.NoError(t, err)
			assert.Equal(t, "89", string(rest))

			_, err = in.ReadByte()
			assert.ErrorIs(t, err, ErrEndOfStream)

			pos, err = in.Seek(10, io.SeekStart)
			require.NoError(t, err)
			assert.Equal(t, int64(10), pos)

			_, err = in.Seek(11, io.SeekStart)
			assert.ErrorIs(t, err, ErrEndOfStream)
			_, err = in.Seek(-1, io.SeekStart)
			assert.Error(t, err)
			assert.Equal(t, int64(10), in.Position())

			pos, err = in.Seek(-7, io.SeekCurrent)
			require.NoError(t, err)
			assert.Equal(t, int64(3), pos)
		})

		t.Run("clone", func(t *testing.T) {
			_, err := in.Seek(6, io.SeekStart)
			require.NoError(t, err)

			clone := in.Clone()
			rest, err := io.ReadAll(clone)
			require.NoError(t, err)
			assert.Equal(t, "6789", string(rest))
			assert.Equal(t, int64(6), in.Position())
		})

		t.Run("closed", func(t *testing.T) {
			require.NoError(t, in.Close())
			require.NoError(t, in.Close())

			_, err := in.Read(make([]byte, 1))
			assert.ErrorIs(t, err, ErrClosedChannel)
			_, err = in.Seek(0, io.SeekStart)
			assert.ErrorIs(t, err, ErrClosedChannel)
			_, err = in.ReadAt(make([]byte, 1), 0)
			assert.ErrorIs(t, err, ErrClosedChannel)
		})
	})
}

func TestInputChannelEmptyFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)
		writeFile(t, d, "empty", nil)

		in, err := d.Open(ctx, "empty")
		require.NoError(t, err)

		n, err := in.Read(make([]byte, 8))
		assert.Zero(t, n)
		assert.ErrorIs(t, err, ErrEndOfStream)

		pos, err := in.Seek(0, io.SeekEnd)
		require.NoError(t, err)
		assert.Zero(t, pos)
	})
}

func TestOutputChannelOutlivesCreateContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		d := f.directory(t, WithFlushThreshold(8))

		ctx, cancel := context.WithCancel(context.Background())
		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		cancel()

		// Crosses the threshold, so Write commits on its own.
		_, err = out.Write([]byte("0123456789"))
		require.NoError(t, err)
		_, err = out.Write([]byte("ab"))
		require.NoError(t, err)
		require.NoError(t, out.Close())

		assert.Equal(t, []byte("0123456789ab"), readFile(t, d, "a"))
	})
}

func TestLargeFile(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)
		data := pattern(3<<20 + 123)

		writeFile(t, d, "_0.cfs", data)
		assert.Equal(t, data, readFile(t, d, "_0.cfs"))

		names, err := d.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"_0.cfs"}, names, "chunk keys are not listed")

		total, err := d.Recount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), total)

		// Replacing and deleting leave no chunks behind.
		writeFile(t, d, "_0.cfs", []byte("small"))
		require.NoError(t, d.Delete(ctx, "_0.cfs"))
		keys, err := d.store.Keys(ctx)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

// countingStore sums the value bytes written by committed and aborted
// update transactions alike.
type countingStore struct {
	kv.Store
	written atomic.Int64
}

func (c *countingStore) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	txn, err := c.Store.Begin(ctx, update)
	if err != nil {
		return nil, err
	}
	return &countingTxn{Txn: txn, written: &c.written}, nil
}

type countingTxn struct {
	kv.Txn
	written *atomic.Int64
}

func (t *countingTxn) Add(key string, entry kv.Entry) (bool, error) {
	t.written.Add(int64(len(entry.Value)))
	return t.Txn.Add(key, entry)
}

func (t *countingTxn) CompareAndReplace(key string, entry kv.Entry, expectedVersion string) (bool, error) {
	t.written.Add(int64(len(entry.Value)))
	return t.Txn.CompareAndReplace(key, entry, expectedVersion)
}

func TestFlushWritesOnlyNewChunks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		store := &countingStore{Store: f.open(t, 1)[0]}
		d := New(store, WithFlushThreshold(4096))

		const size = 1 << 20
		data := pattern(size)
		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		for i := 0; i < size; i += 1000 {
			_, err := out.Write(data[i:min(i+1000, size)])
			require.NoError(t, err)
		}
		require.NoError(t, out.Close())

		// 256 flushes. Rewriting the file on each would store over 128 MiB.
		assert.Less(t, store.written.Load(), int64(2*size))
		assert.Equal(t, data, readFile(t, d, "a"))
	})
}
