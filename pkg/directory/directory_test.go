package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/marmos91/dittodir/internal/clock"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExistsFollowsCreateAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		for _, name := range []string{"a", "segments_1", "_0.cfs", "with space"} {
			exists, err := d.Exists(ctx, name)
			require.NoError(t, err)
			assert.False(t, exists)

			out, err := d.Create(ctx, name)
			require.NoError(t, err)

			exists, err = d.Exists(ctx, name)
			require.NoError(t, err)
			assert.True(t, exists, "file must exist as soon as Create returns")
			require.NoError(t, out.Close())

			require.NoError(t, d.Delete(ctx, name))
			exists, err = d.Exists(ctx, name)
			require.NoError(t, err)
			assert.False(t, exists)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 5, 1023, 1024, 1025, 3000, DefaultFlushThreshold + 17}

	forEachBackend(t, func(t *testing.T, f fixture) {
		d := f.directory(t)
		for _, size := range sizes {
			data := pattern(size)
			writeFile(t, d, "file", data)

			got := readFile(t, d, "file")
			assert.Equal(t, data, got, "size %d", size)
		}
	})
}

func TestRoundTripManySmallWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t, WithChunkSize(16), WithFlushThreshold(50))

		data := pattern(1000)
		out, err := d.Create(ctx, "f")
		require.NoError(t, err)
		for i := 0; i < len(data); i += 7 {
			_, err := out.Write(data[i:min(i+7, len(data))])
			require.NoError(t, err)
		}
		require.NoError(t, out.Close())

		assert.Equal(t, data, readFile(t, d, "f"))
	})
}

func TestReadIsRepeatable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		d := f.directory(t)
		writeFile(t, d, "a", pattern(4096))

		first := readFile(t, d, "a")
		second := readFile(t, d, "a")
		assert.Equal(t, first, second)
	})
}

func TestSizeInBytesSumsLengths(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		d := f.directory(t)
		lengths := map[string]int{"f1": 0, "f2": 10, "f3": 1024, "f4": 5000}

		var total int64
		for name, n := range lengths {
			writeFile(t, d, name, pattern(n))
			total += int64(n)
		}
		assert.Equal(t, total, d.SizeInBytes())
	})
}

func TestDeleteMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		d := f.directory(t)
		err := d.Delete(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, int64(0), d.SizeInBytes())
	})
}

func TestNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		_, err := d.Stat(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = d.FileLength(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = d.FileModified(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = d.Open(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, d.Touch(ctx, "missing"), ErrNotFound)
	})
}

func TestInvalidName(t *testing.T) {
	d := New(fixtures()[0].open(t, 1)[0])
	ctx := context.Background()

	for _, name := range []string{"", "a\x00b"} {
		_, err := d.Create(ctx, name)
		assert.ErrorIs(t, err, ErrInvalidName)

		// Names that can never be stored are simply absent.
		exists, err := d.Exists(ctx, name)
		assert.NoError(t, err)
		assert.False(t, exists)

		_, err = d.Stat(ctx, name)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = d.Open(ctx, name)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, d.Touch(ctx, name), ErrNotFound)
		assert.ErrorIs(t, d.Delete(ctx, name), ErrNotFound)
	}
}

func TestCreateReplacesContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		writeFile(t, d, "doc1", []byte("hello"))
		length, err := d.FileLength(ctx, "doc1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), length)

		writeFile(t, d, "doc1", []byte("hi"))
		length, err = d.FileLength(ctx, "doc1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), length)

		names, err := d.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"doc1"}, names)
		assert.Equal(t, int64(2), d.SizeInBytes())
		assert.Equal(t, []byte("hi"), readFile(t, d, "doc1"))
	})
}

func TestListSorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		d := f.directory(t)

		names, err := d.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)

		for _, name := range []string{"c", "a", "b"} {
			writeFile(t, d, name, nil)
		}
		names, err = d.List(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
			t.Errorf("List() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStat(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		fake := clock.Fake(time.UnixMilli(1_700_000_000_123))
		d := f.directory(t, WithClock(fake))

		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		fake.Advance(time.Second)
		_, err = out.Write([]byte("abc"))
		require.NoError(t, err)
		require.NoError(t, out.Close())

		info, err := d.Stat(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "a", info.Name)
		assert.Equal(t, int64(3), info.Size)
		assert.Equal(t, int64(1_700_000_001_123), info.ModTime.UnixMilli())
		assert.Equal(t, time.Local, info.ModTime.Location())
	})
}

func TestTouchIsStrictlyMonotonic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		fake := clock.Fake(time.UnixMilli(1_700_000_000_000))
		d := f.directory(t, WithClock(fake))
		writeFile(t, d, "a", []byte("x"))

		before, err := d.FileModified(ctx, "a")
		require.NoError(t, err)

		require.NoError(t, d.Touch(ctx, "a"))
		first, err := d.FileModified(ctx, "a")
		require.NoError(t, err)

		require.NoError(t, d.Touch(ctx, "a"))
		second, err := d.FileModified(ctx, "a")
		require.NoError(t, err)

		assert.Greater(t, first.UnixMilli(), before.UnixMilli())
		assert.Greater(t, second.UnixMilli(), first.UnixMilli())
		assert.Positive(t, fake.Sleeps(), "the frozen clock must have forced a wait")

		// Content is untouched.
		assert.Equal(t, []byte("x"), readFile(t, d, "a"))
	})
}

func TestTouchWithClockBehind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stored := time.UnixMilli(1_700_000_000_000)
		fake := clock.Fake(stored)
		d := f.directory(t, WithClock(fake))
		writeFile(t, d, "a", nil)

		fake.Set(stored.Add(-time.Hour))
		require.NoError(t, d.Touch(ctx, "a"))

		modified, err := d.FileModified(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, stored.UnixMilli()+1, modified.UnixMilli())
		assert.Equal(t, touchSpinLimit, fake.Sleeps())
	})
}

func TestTouchIsVisibleToOtherInstances(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		fake := clock.Fake(time.UnixMilli(1_700_000_000_000))
		stores := f.open(t, 2)
		d1 := New(stores[0], WithClock(fake))
		d2 := New(stores[1])

		writeFile(t, d1, "a", nil)
		fake.Advance(time.Minute)
		require.NoError(t, d1.Touch(ctx, "a"))

		modified, err := d2.FileModified(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, fake.Now().UnixMilli(), modified.UnixMilli())
	})
}

func TestCreateConflict(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stores := f.open(t, 2)
		hooked := &hookStore{Store: stores[0]}
		d := New(hooked)
		other := New(stores[1])

		t.Run("replace", func(t *testing.T) {
			writeFile(t, d, "a", []byte("v1"))

			hooked.beforeNextUpdate(func() { writeFile(t, other, "a", []byte("v2")) })
			_, err := d.Create(ctx, "a")
			assert.ErrorIs(t, err, ErrTransactionConflict)

			// The competing version survives.
			assert.Equal(t, []byte("v2"), readFile(t, d, "a"))
		})

		t.Run("add", func(t *testing.T) {
			hooked.beforeNextUpdate(func() { writeFile(t, other, "b", []byte("theirs")) })
			_, err := d.Create(ctx, "b")
			assert.ErrorIs(t, err, ErrTransactionConflict)
			assert.Equal(t, []byte("theirs"), readFile(t, d, "b"))
		})
	})
}

func TestCreateRetriesConflicts(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stores := f.open(t, 2)
		hooked := &hookStore{Store: stores[0]}
		recorder := &recordingMetrics{}
		d := New(hooked, WithCreateRetries(1), WithMetrics(recorder))
		other := New(stores[1])

		hooked.beforeNextUpdate(func() { writeFile(t, other, "a", []byte("theirs")) })
		out, err := d.Create(ctx, "a")
		require.NoError(t, err)
		_, err = out.Write([]byte("mine"))
		require.NoError(t, err)
		require.NoError(t, out.Close())

		assert.Equal(t, []byte("mine"), readFile(t, other, "a"))
		assert.Equal(t, []string{"Create:true"}, recorder.conflicts)
	})
}

func TestDeleteFailureLeavesSize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx, cancel := context.WithCancel(context.Background())
		d := f.directory(t)
		writeFile(t, d, "a", pattern(100))

		cancel()
		err := d.Delete(ctx, "a")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int64(100), d.SizeInBytes())

		exists, err := d.Exists(context.Background(), "a")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestSharedCollection(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stores := f.open(t, 2)
		d1 := New(stores[0])
		d2 := New(stores[1])

		writeFile(t, d1, "a", pattern(10))
		assert.Equal(t, pattern(10), readFile(t, d2, "a"))

		require.NoError(t, d2.Delete(ctx, "a"))
		exists, err := d1.Exists(ctx, "a")
		require.NoError(t, err)
		assert.False(t, exists)

		// Each instance only accounts for its own mutations.
		assert.Equal(t, int64(10), d1.SizeInBytes())
		assert.Equal(t, int64(-10), d2.SizeInBytes())

		total, err := d1.Recount(ctx)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Zero(t, d1.SizeInBytes())
	})
}

func TestRecount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stores := f.open(t, 2)
		writer := New(stores[0])
		writeFile(t, writer, "a", pattern(300))
		writeFile(t, writer, "b", pattern(20))

		d := New(stores[1])
		assert.Zero(t, d.SizeInBytes())

		total, err := d.Recount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(320), total)
		assert.Equal(t, int64(320), d.SizeInBytes())
	})
}

func TestClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		stores := f.open(t, 2)
		d := New(stores[0])
		observer := New(stores[1])

		writeFile(t, d, "a", pattern(10))
		out, err := d.Create(ctx, "b")
		require.NoError(t, err)

		require.NoError(t, d.Close(ctx))

		names, err := observer.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, names, "Close must have cleared the collection")
		assert.Zero(t, d.SizeInBytes())

		_, err = out.Write([]byte("late"))
		assert.ErrorIs(t, err, ErrStaleHandle)

		_, err = d.List(ctx)
		assert.ErrorIs(t, err, ErrStoreClosed)
		_, err = d.Exists(ctx, "a")
		assert.ErrorIs(t, err, ErrStoreClosed)
		_, err = d.Create(ctx, "a")
		assert.ErrorIs(t, err, ErrStoreClosed)
		_, err = d.Open(ctx, "a")
		assert.ErrorIs(t, err, ErrStoreClosed)
		assert.ErrorIs(t, d.Delete(ctx, "a"), ErrStoreClosed)
		assert.ErrorIs(t, d.Touch(ctx, "a"), ErrStoreClosed)
		assert.ErrorIs(t, d.Close(ctx), ErrStoreClosed)
	})
}

func TestIntegrityCheck(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f fixture) {
		ctx := context.Background()
		store := f.open(t, 1)[0]
		d := New(store)

		// Stored chunks whose digest does not match the header.
		rec, chunks := newRecord("bad", 4, 0).appended([]byte("data!"), emptyChecksum, 1)
		entry, err := rec.entry()
		require.NoError(t, err)
		require.NoError(t, kv.Update(ctx, store, func(txn kv.Txn) error {
			if _, err := txn.Add("bad", entry); err != nil {
				return err
			}
			_, err := txn.Add(chunkKey("bad", rec.Generation, 0), kv.Entry{Version: rec.Generation, Value: chunks[0]})
			return err
		}))

		_, err = d.Open(ctx, "bad")
		assert.ErrorIs(t, err, ErrIntegrity)

		// A header whose chunks are gone.
		orphan, _ := newRecord("orphan", 4, 0).appended([]byte("data"), checksum([]byte("data")), 1)
		entry, err = orphan.entry()
		require.NoError(t, err)
		require.NoError(t, kv.Update(ctx, store, func(txn kv.Txn) error {
			_, err := txn.Add("orphan", entry)
			return err
		}))

		_, err = d.Open(ctx, "orphan")
		assert.ErrorIs(t, err, ErrIntegrity)

		// A header that does not decode.
		require.NoError(t, kv.Update(ctx, store, func(txn kv.Txn) error {
			_, err := txn.Add("garbage", kv.Entry{Version: "v", Value: []byte{0xc1}})
			return err
		}))
		_, err = d.Open(ctx, "garbage")
		assert.ErrorIs(t, err, ErrIntegrity)
		require.NoError(t, d.Delete(ctx, "garbage"))

		// Corrupt files can still be replaced and deleted.
		writeFile(t, d, "bad", []byte("ok"))
		assert.Equal(t, []byte("ok"), readFile(t, d, "bad"))
		require.NoError(t, d.Delete(ctx, "bad"))
	})
}

func TestOperationMetrics(t *testing.T) {
	ctx := context.Background()
	recorder := &recordingMetrics{}
	d := New(fixtures()[0].open(t, 1)[0], WithMetrics(recorder))

	writeFile(t, d, "a", pattern(42))
	_ = d.Delete(ctx, "missing")

	assert.Contains(t, recorder.ops, "Create:ok")
	assert.Contains(t, recorder.ops, "Delete:error")
	assert.Equal(t, int64(42), recorder.written)
	assert.Equal(t, int64(42), recorder.size)
}

// recordingMetrics is a DirectoryMetrics that remembers what it was told.
type recordingMetrics struct {
	ops       []string
	conflicts []string
	written   int64
	size      int64
}

func (r *recordingMetrics) ObserveOperation(op string, _ time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.ops = append(r.ops, op+":"+status)
}

func (r *recordingMetrics) RecordConflict(op string, retried bool) {
	label := "false"
	if retried {
		label = "true"
	}
	r.conflicts = append(r.conflicts, op+":"+label)
}

func (r *recordingMetrics) RecordBytesWritten(n int64) { r.written += n }

func (r *recordingMetrics) SetAggregateSize(bytes int64) { r.size = bytes }

func TestTranslate(t *testing.T) {
	cause := errors.New("disk on fire")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", kv.ErrKeyNotFound, ErrNotFound},
		{"conflict", kv.ErrConflict, ErrTransactionConflict},
		{"other", cause, ErrBackendUnavailable},
		{"closed backend", kv.ErrClosed, ErrBackendUnavailable},
		{"sentinel", ErrStaleHandle, ErrStaleHandle},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate("f", tt.in)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.in, "original error must stay in the chain")
		})
	}

	assert.NoError(t, translate("f", nil))
}
