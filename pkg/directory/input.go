package directory

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// InputChannel reads one version of a file. It implements io.Reader,
// io.ReaderAt, io.ByteReader, io.Seeker and io.Closer.
type InputChannel struct {
	rec    content
	pos    int64
	closed bool
}

var (
	_ io.ReadSeekCloser = (*InputChannel)(nil)
	_ io.ReaderAt       = (*InputChannel)(nil)
	_ io.ByteReader     = (*InputChannel)(nil)
)

func newInputChannel(c content) *InputChannel {
	return &InputChannel{rec: c}
}

// Name returns the file name.
func (in *InputChannel) Name() string { return in.rec.Name }

// Length returns the length of the version being read.
func (in *InputChannel) Length() int64 { return in.rec.Length }

// ModTime returns the modification time of the version being read.
func (in *InputChannel) ModTime() time.Time { return in.rec.ModTime() }

// Position returns the offset of the next byte Read returns.
func (in *InputChannel) Position() int64 { return in.pos }

func (in *InputChannel) Read(p []byte) (int, error) {
	if in.closed {
		return 0, fmt.Errorf("%s: %w", in.rec.Name, ErrClosedChannel)
	}
	if in.pos >= in.rec.Length {
		return 0, ErrEndOfStream
	}
	n := in.rec.readAt(p, in.pos)
	in.pos += int64(n)
	return n, nil
}

// ReadAt reads from off without moving the position.
func (in *InputChannel) ReadAt(p []byte, off int64) (int, error) {
	if in.closed {
		return 0, fmt.Errorf("%s: %w", in.rec.Name, ErrClosedChannel)
	}
	if off < 0 {
		return 0, fmt.Errorf("%s: negative offset %d", in.rec.Name, off)
	}
	if off >= in.rec.Length {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrEndOfStream
	}
	n := in.rec.readAt(p, off)
	if n < len(p) {
		return n, ErrEndOfStream
	}
	return n, nil
}

func (in *InputChannel) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := in.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Seek sets the position. Seeking to the length is allowed; seeking past
// it fails with ErrEndOfStream and leaves the position unchanged.
func (in *InputChannel) Seek(offset int64, whence int) (int64, error) {
	if in.closed {
		return 0, fmt.Errorf("%s: %w", in.rec.Name, ErrClosedChannel)
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = in.pos + offset
	case io.SeekEnd:
		abs = in.rec.Length + offset
	default:
		return 0, errors.New("directory: invalid whence")
	}

	if abs < 0 {
		return 0, fmt.Errorf("%s: negative position %d", in.rec.Name, abs)
	}
	if abs > in.rec.Length {
		return 0, fmt.Errorf("%s: seek to %d past length %d: %w", in.rec.Name, abs, in.rec.Length, ErrEndOfStream)
	}

	in.pos = abs
	return abs, nil
}

// Clone returns an independent channel over the same version, positioned
// where in is.
func (in *InputChannel) Clone() *InputChannel {
	clone := *in
	return &clone
}

// Close releases the channel. Calling Close again does nothing.
func (in *InputChannel) Close() error {
	in.closed = true
	return nil
}
