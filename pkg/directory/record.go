package directory

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// FileRecord is the header of one immutable version of a stored file.
//
// Records are never modified once committed. Writing, flushing or touching
// a file produces a new header with a new Version, persisted with a
// compare-and-replace against the previous Version.
//
// Content Layout:
//
//	<name>                               → FileRecord (header, tail inline)
//	<name> \x00 <generation> \x00 <i>    → full chunk i (ChunkSize bytes)
//
// Full chunks are written once, by the flush that completed them, in the
// same transaction as the header that accounts for them, and never
// rewritten. The bytes after the last full chunk (always fewer than
// ChunkSize) travel inline in the header as Tail. A flush therefore costs
// the chunks it completes plus one small header, whatever the file size.
//
// Generation is fixed by Create. Flushing and touching keep it; a new
// Create starts a new one, so the chunks of an older version are never
// overwritten, only removed together with the header that owned them.
type FileRecord struct {
	// Name is the key of the header within its collection.
	Name string `msgpack:"n"`

	// Length is the content length: full chunks plus Tail.
	Length int64 `msgpack:"l"`

	// ModifiedMillis is the last-modified time in UTC milliseconds.
	ModifiedMillis int64 `msgpack:"m"`

	// ChunkSize is the size of every full chunk of this record.
	ChunkSize int `msgpack:"s"`

	// Generation names the chunk keys of this file.
	Generation string `msgpack:"g"`

	// Tail holds the content after the last full chunk.
	Tail []byte `msgpack:"t"`

	// Checksum is the BLAKE3-256 digest of the content.
	Checksum []byte `msgpack:"h"`

	// Version is the version token of the kv.Entry carrying this header.
	// It is not part of the encoded record.
	Version string `msgpack:"-"`
}

// emptyChecksum is the digest of zero bytes.
var emptyChecksum = func() []byte {
	sum := blake3.Sum256(nil)
	return sum[:]
}()

// newVersion returns a fresh version token.
func newVersion() string {
	return uuid.NewString()
}

// newRecord builds the first, empty version of a file.
func newRecord(name string, chunkSize int, modified int64) FileRecord {
	return FileRecord{
		Name:           name,
		ModifiedMillis: modified,
		ChunkSize:      chunkSize,
		Generation:     newVersion(),
		Checksum:       emptyChecksum,
		Version:        newVersion(),
	}
}

// ModTime returns the last-modified time in the local time zone.
func (r FileRecord) ModTime() time.Time {
	return time.UnixMilli(r.ModifiedMillis).Local()
}

// fullChunks returns the number of chunks stored under their own keys.
func (r FileRecord) fullChunks() int64 {
	return (r.Length - int64(len(r.Tail))) / int64(r.ChunkSize)
}

// chunkKeys returns the keys of every full chunk of r.
func (r FileRecord) chunkKeys() []string {
	n := r.fullChunks()
	keys := make([]string, 0, n)
	for i := int64(0); i < n; i++ {
		keys = append(keys, chunkKey(r.Name, r.Generation, i))
	}
	return keys
}

// touched returns a copy of r with a new modification time and version.
// The content is shared.
func (r FileRecord) touched(modified int64) FileRecord {
	next := r
	next.ModifiedMillis = modified
	next.Version = newVersion()
	return next
}

// appended returns the version of r with data added at the end, plus the
// full chunks that version completes. The chunks must be stored under
// chunkKey(name, generation, r.fullChunks()+i).
func (r FileRecord) appended(data []byte, checksum []byte, modified int64) (FileRecord, [][]byte) {
	buf := make([]byte, 0, len(r.Tail)+len(data))
	buf = append(buf, r.Tail...)
	buf = append(buf, data...)

	var chunks [][]byte
	for len(buf) >= r.ChunkSize {
		chunks = append(chunks, buf[:r.ChunkSize:r.ChunkSize])
		buf = buf[r.ChunkSize:]
	}

	next := r
	next.Tail = bytes.Clone(buf)
	next.Length = r.Length + int64(len(data))
	next.Checksum = checksum
	next.ModifiedMillis = modified
	next.Version = newVersion()
	return next, chunks
}

// chunkKey returns the key of chunk i of a file generation. Valid file
// names never contain NUL, so chunk keys cannot collide with headers.
func chunkKey(name, generation string, i int64) string {
	return name + "\x00" + generation + "\x00" + strconv.FormatInt(i, 10)
}

// isChunkKey reports whether key addresses a chunk rather than a header.
func isChunkKey(key string) bool {
	return strings.IndexByte(key, 0) >= 0
}

// validName reports whether name may be used as a file name.
func validName(name string) bool {
	return name != "" && !isChunkKey(name)
}

// entry encodes r into the header value stored in the backend.
func (r FileRecord) entry() (kv.Entry, error) {
	value, err := msgpack.Marshal(&r)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("failed to encode record %s: %w", r.Name, err)
	}
	return kv.Entry{Version: r.Version, Value: value}, nil
}

// decodeRecord is the inverse of FileRecord.entry.
func decodeRecord(name string, entry kv.Entry) (FileRecord, error) {
	var r FileRecord
	if err := msgpack.Unmarshal(entry.Value, &r); err != nil {
		return FileRecord{}, fmt.Errorf("%s: failed to decode record: %w", name, ErrIntegrity)
	}
	if r.ChunkSize <= 0 || len(r.Tail) >= r.ChunkSize || r.Length < int64(len(r.Tail)) ||
		(r.Length-int64(len(r.Tail)))%int64(r.ChunkSize) != 0 {
		return FileRecord{}, fmt.Errorf("%s: inconsistent layout (length %d, tail %d, chunk size %d): %w",
			name, r.Length, len(r.Tail), r.ChunkSize, ErrIntegrity)
	}
	r.Name = name
	r.Version = entry.Version
	return r, nil
}

// content is one fully loaded version: the header plus its chunks.
type content struct {
	FileRecord

	// chunks holds the full chunks followed by the tail, if any.
	chunks [][]byte
}

// loadContent reads the chunks of rec inside txn. A missing chunk fails
// with errChunkMissing.
func loadContent(txn kv.Txn, rec FileRecord) (content, error) {
	keys := rec.chunkKeys()
	chunks := make([][]byte, 0, len(keys)+1)
	for i, key := range keys {
		entry, err := txn.Get(key)
		if err != nil {
			if isKeyNotFound(err) {
				return content{}, fmt.Errorf("%s: chunk %d: %w", rec.Name, i, errChunkMissing)
			}
			return content{}, err
		}
		if len(entry.Value) != rec.ChunkSize {
			return content{}, fmt.Errorf("%s: chunk %d has %d bytes, expected %d: %w",
				rec.Name, i, len(entry.Value), rec.ChunkSize, ErrIntegrity)
		}
		chunks = append(chunks, entry.Value)
	}
	if len(rec.Tail) > 0 {
		chunks = append(chunks, rec.Tail)
	}
	return content{FileRecord: rec, chunks: chunks}, nil
}

// readAt copies content starting at off into p and returns the number of
// bytes copied. It never reads past Length.
func (c content) readAt(p []byte, off int64) int {
	n := 0
	for n < len(p) && off < c.Length {
		chunk := c.chunks[off/int64(c.ChunkSize)]
		within := int(off % int64(c.ChunkSize))
		copied := copy(p[n:], chunk[within:])
		n += copied
		off += int64(copied)
	}
	return n
}

// verify recomputes the content digest and compares it with Checksum.
func (c content) verify() error {
	h := blake3.New()
	var total int64
	for _, chunk := range c.chunks {
		_, _ = h.Write(chunk)
		total += int64(len(chunk))
	}
	if total != c.Length {
		return fmt.Errorf("%s: length %d does not match %d stored bytes: %w", c.Name, c.Length, total, ErrIntegrity)
	}
	if !bytes.Equal(h.Sum(nil), c.Checksum) {
		return fmt.Errorf("%s: checksum mismatch: %w", c.Name, ErrIntegrity)
	}
	return nil
}
