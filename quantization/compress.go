package quantization

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"
)

// Compressor is a lossless byte compressor applied to opaque payload blobs
// before they are handed to a backing store.
type Compressor interface {
	Compress(b []byte) ([]byte, error)
	Decompress(b []byte) ([]byte, error)
	Name() string
}

// S2Compressor compresses with the S2 block format (Snappy-compatible
// superset). This is the default compressor.
type S2Compressor struct{}

func (S2Compressor) Name() string { return "s2" }

func (S2Compressor) Compress(b []byte) ([]byte, error) {
	return s2.Encode(nil, b), nil
}

func (S2Compressor) Decompress(b []byte) ([]byte, error) {
	return s2.Decode(nil, b)
}

// LZ4Compressor compresses with the LZ4 frame format.
type LZ4Compressor struct{}

func (LZ4Compressor) Name() string { return "lz4" }

func (LZ4Compressor) Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Compressor) Decompress(b []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(b)))
}
