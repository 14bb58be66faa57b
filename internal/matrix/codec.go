package matrix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the payload block is compressed.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZSTD Compression = 2
)

// ParseCompression maps a config name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression: %s", name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", c)
	}
}

const (
	magicNumber uint32 = 0x4d424d45 // "EMBM"
	version     uint32 = 1
)

var (
	ErrInvalidMagic   = errors.New("matrix: invalid magic number")
	ErrInvalidVersion = errors.New("matrix: unsupported version")
	ErrChecksum       = errors.New("matrix: checksum mismatch")
	ErrCorruptedBlock = errors.New("matrix: corrupted payload block")
)

// fileHeader is the fixed-size prefix of an encoded matrix.
type fileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	_           [3]byte
	Rows        uint64
	Dim         uint64
	// Raw payload size, then stored block size (0 = stored uncompressed).
	RawSize    uint64
	StoredSize uint64
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode writes m to w. The payload is compressed as one block and followed
// by a CRC32 of the raw payload.
func Encode(w io.Writer, m *Matrix, c Compression) error {
	raw := make([]byte, len(m.data)*4)
	for i, v := range m.data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	stored, err := compress(raw, c)
	if err != nil {
		return fmt.Errorf("matrix: compress %s: %w", c, err)
	}
	hdr := fileHeader{
		Magic:       magicNumber,
		Version:     version,
		Compression: uint8(c),
		Rows:        uint64(m.rows),
		Dim:         uint64(m.dim),
		RawSize:     uint64(len(raw)),
	}
	payload := raw
	if stored != nil {
		hdr.StoredSize = uint64(len(stored))
		payload = stored
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc32.ChecksumIEEE(raw))
}

// sizeFits reports whether a rows×dim float32 payload is addressable as an
// int byte count.
func sizeFits(rows, dim uint64) bool {
	const limit = math.MaxInt / 4
	if rows > limit || dim > limit {
		return false
	}
	return dim == 0 || rows <= limit/dim
}

// Decode reads a matrix written by Encode.
func Decode(r io.Reader) (*Matrix, error) {
	var hdr fileHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("matrix: read header: %w", err)
	}
	if hdr.Magic != magicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, hdr.Magic)
	}
	if hdr.Version != version {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidVersion, hdr.Version)
	}
	if !sizeFits(hdr.Rows, hdr.Dim) || hdr.RawSize != hdr.Rows*hdr.Dim*4 || hdr.StoredSize > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrCorruptedBlock, hdr.RawSize, hdr.Rows, hdr.Dim)
	}

	var raw []byte
	if hdr.StoredSize == 0 {
		raw = make([]byte, hdr.RawSize)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("matrix: read payload: %w", err)
		}
	} else {
		stored := make([]byte, hdr.StoredSize)
		if _, err := io.ReadFull(r, stored); err != nil {
			return nil, fmt.Errorf("matrix: read payload: %w", err)
		}
		var err error
		raw, err = decompress(stored, int(hdr.RawSize), Compression(hdr.Compression))
		if err != nil {
			return nil, err
		}
	}

	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, fmt.Errorf("matrix: read checksum: %w", err)
	}
	if sum != crc32.ChecksumIEEE(raw) {
		return nil, ErrChecksum
	}

	m := New(int(hdr.Rows), int(hdr.Dim))
	for i := range m.data {
		m.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return m, nil
}

// compress returns nil when the block should be stored raw.
func compress(raw []byte, c Compression) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []byte
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil // Incompressible
		}
		out = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		out = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
	// Not worth it
	if float64(len(out)) > float64(len(raw))*0.9 {
		return nil, nil
	}
	return out, nil
}

func decompress(stored []byte, rawSize int, c Compression) ([]byte, error) {
	raw := make([]byte, rawSize)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(stored, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedBlock, err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptedBlock, n, rawSize)
		}
		return raw, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, raw[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedBlock, err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorruptedBlock, len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compression %d with stored block", ErrCorruptedBlock, c)
	}
}
