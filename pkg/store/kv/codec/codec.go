// Package codec serializes kv.Entry values for byte-oriented backends.
//
// Wire Layout:
//
//	+-----+------------------------+---------------------------+
//	| tag | uncompressed length    | payload                   |
//	| 1B  | uvarint                | msgpack(Entry), maybe     |
//	|     |                        | compressed per tag        |
//	+-----+------------------------+---------------------------+
//
// The tag records the algorithm actually used, not the one requested:
// payloads that do not shrink are stored uncompressed, so decoding never
// depends on the codec's configuration.
//
// The length header is checked against the payload before anything is
// allocated. Every Decode failure wraps kv.ErrCorrupt.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Compression identifies the algorithm applied to an encoded entry.
// Values are persisted; do not renumber.
type Compression uint8

const (
	// CompressionNone stores the msgpack payload as is.
	CompressionNone Compression = 0

	// CompressionLZ4 applies LZ4 block compression. Cheap to decode.
	CompressionLZ4 Compression = 1

	// CompressionZstd applies zstd at the default level. Better ratio on
	// text-like index files.
	CompressionZstd Compression = 2
)

// String returns the configuration name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string means
// CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// MaxDecodedSize bounds the uncompressed length Decode accepts.
const MaxDecodedSize = 1 << 30

// lz4MaxRatio is the best compression ratio an LZ4 block can reach.
const lz4MaxRatio = 255

// errIncompressible signals that compression did not reduce the size.
var errIncompressible = errors.New("incompressible")

// zstd encoders and decoders are safe for concurrent use and expensive to
// build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode serializes entry, compressing it with c when that saves space.
func Encode(entry kv.Entry, c Compression) ([]byte, error) {
	raw, err := msgpack.Marshal(&entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}

	tag := c
	payload := raw
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		payload, err = compressLZ4(raw)
	case CompressionZstd:
		payload, err = compressZstd(raw)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", c)
	}
	if errors.Is(err, errIncompressible) {
		tag, payload = CompressionNone, raw
	} else if err != nil {
		return nil, err
	}

	out := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	out[0] = byte(tag)
	out = binary.AppendUvarint(out, uint64(len(raw)))
	return append(out, payload...), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (kv.Entry, error) {
	entry, err := decode(data)
	if err != nil {
		return kv.Entry{}, fmt.Errorf("failed to decode entry: %w: %w", kv.ErrCorrupt, err)
	}
	return entry, nil
}

func decode(data []byte) (kv.Entry, error) {
	if len(data) < 2 {
		return kv.Entry{}, fmt.Errorf("%d bytes is too short", len(data))
	}

	tag := Compression(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return kv.Entry{}, errors.New("bad length header")
	}
	payload := data[1+n:]
	if err := checkSize(tag, size, len(payload)); err != nil {
		return kv.Entry{}, err
	}

	var raw []byte
	var err error
	switch tag {
	case CompressionNone:
		raw = payload
	case CompressionLZ4:
		raw, err = decompressLZ4(payload, int(size))
	case CompressionZstd:
		raw, err = decompressZstd(payload, int(size))
	default:
		return kv.Entry{}, fmt.Errorf("unsupported compression %s", tag)
	}
	if err != nil {
		return kv.Entry{}, err
	}
	if uint64(len(raw)) != size {
		return kv.Entry{}, fmt.Errorf("got %d bytes, expected %d", len(raw), size)
	}

	var entry kv.Entry
	if err := msgpack.Unmarshal(raw, &entry); err != nil {
		return kv.Entry{}, err
	}
	return entry, nil
}

// checkSize rejects length headers the payload cannot account for.
func checkSize(tag Compression, size uint64, payload int) error {
	if size > MaxDecodedSize {
		return fmt.Errorf("length header %d exceeds %d", size, MaxDecodedSize)
	}
	switch tag {
	case CompressionNone:
		if size != uint64(payload) {
			return fmt.Errorf("length header %d does not match %d payload bytes", size, payload)
		}
	case CompressionLZ4:
		if size > uint64(payload)*lz4MaxRatio+16 {
			return fmt.Errorf("length header %d too large for %d lz4 bytes", size, payload)
		}
	}
	return nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:read], nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	// The header is only a hint for zstd; the output grows as needed.
	hint := min(size, len(compressed)*lz4MaxRatio+16)
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, hint))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
