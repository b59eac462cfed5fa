package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/stepsync/internal/conv"
	"github.com/hupe1980/stepsync/internal/hash"
)

// Compression selects the block compression of a snapshot.
type Compression uint8

const (
	// CompressionNone stores column blocks as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD block compression.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
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

// Block header: [UncompressedSize uint32][CompressedSize uint32][CRC32C uint32].
// CompressedSize 0 means the block is stored uncompressed. The checksum
// covers the uncompressed bytes.
const blockHeaderSize = 12

var errBlockSize = errors.New("snapshot: decompressed size mismatch")

// writeBlock writes data as one block. Blocks that do not shrink below 90%
// are stored uncompressed.
func writeBlock(w io.Writer, data []byte, c Compression) error {
	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return err
		}
		packed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}
	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		packed = nil
	}

	size, err := conv.IntToUint32(len(data))
	if err != nil {
		return err
	}
	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], size)
	binary.LittleEndian.PutUint32(hdr[4:], conv.MustUint32(len(packed)))
	binary.LittleEndian.PutUint32(hdr[8:], hash.CRC32C(data))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if packed == nil {
		_, err = w.Write(data)
	} else {
		_, err = w.Write(packed)
	}
	return err
}

// readBlock reads one block written by writeBlock and verifies its
// checksum.
func readBlock(r io.Reader, c Compression) ([]byte, error) {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	sum := binary.LittleEndian.Uint32(hdr[8:])
	data, err := readBlockData(r, c, hdr)
	if err != nil {
		return nil, err
	}
	if hash.CRC32C(data) != sum {
		return nil, fmt.Errorf("%w: block checksum mismatch", ErrInvalidSnapshot)
	}
	return data, nil
}

func readBlockData(r io.Reader, c Compression, hdr [blockHeaderSize]byte) ([]byte, error) {
	size := binary.LittleEndian.Uint32(hdr[0:])
	packedSize := binary.LittleEndian.Uint32(hdr[4:])

	if packedSize == 0 {
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		return data, nil
	}

	packed := make([]byte, packedSize)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != size { //nolint:gosec // n <= len(out)
			return nil, errBlockSize
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(packed, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != size { //nolint:gosec // bounded by size
			return nil, errBlockSize
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("snapshot: compressed block in %s snapshot", c)
	}
}
