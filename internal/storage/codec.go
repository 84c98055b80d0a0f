package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the block compression of a column file.
type Codec uint8

const (
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

var ErrUnknownCodec = errors.New("unknown codec")

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec maps a codec name ("zstd", "lz4") to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "zstd", "":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// zstd encoders and decoders are expensive to build and safe to reuse.
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

// blockHeaderSize covers [rawLen uint32][compLen uint32].
// compLen 0 marks a block stored uncompressed.
const blockHeaderSize = 8

func (c Codec) compress(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch c {
	case CodecZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil // n == 0: incompressible
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
}

func (c Codec) decompress(comp []byte, rawLen int) ([]byte, error) {
	switch c {
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		return dec.DecodeAll(comp, make([]byte, 0, rawLen))
	case CodecLZ4:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(comp, raw)
		if err != nil {
			return nil, err
		}
		return raw[:n], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, c)
}

// writeBlock compresses raw and writes it with its header. Blocks that do
// not shrink are stored as is.
func writeBlock(w io.Writer, c Codec, raw []byte) error {
	comp, err := c.compress(raw)
	if err != nil {
		return err
	}
	var header [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(len(raw)))
	payload := raw
	if len(comp) > 0 && len(comp) < len(raw) {
		binary.LittleEndian.PutUint32(header[4:], uint32(len(comp)))
		payload = comp
	}
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readBlock reads one block written by writeBlock. limit bounds the stored
// payload size, normally the file size.
func readBlock(r io.Reader, c Codec, limit int64) ([]byte, error) {
	var header [blockHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	rawLen := binary.LittleEndian.Uint32(header[0:])
	compLen := binary.LittleEndian.Uint32(header[4:])
	if int64(compLen) > limit || (compLen == 0 && int64(rawLen) > limit) {
		return nil, ErrCorrupt
	}

	if compLen == 0 {
		raw := make([]byte, rawLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		return raw, nil
	}

	comp := make([]byte, compLen)
	if _, err := io.ReadFull(r, comp); err != nil {
		return nil, err
	}
	raw, err := c.decompress(comp, int(rawLen))
	if err != nil {
		return nil, err
	}
	if len(raw) != int(rawLen) {
		return nil, ErrCorrupt
	}
	return raw, nil
}
