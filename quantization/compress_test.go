package quantization

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	compressors := []Compressor{S2Compressor{}, LZ4Compressor{}}

	payloads := [][]byte{
		{},
		[]byte("small"),
		bytes.Repeat([]byte("compressible pattern "), 512),
	}

	for _, c := range compressors {
		t.Run(c.Name(), func(t *testing.T) {
			for _, payload := range payloads {
				compressed, err := c.Compress(payload)
				require.NoError(t, err)

				decompressed, err := c.Decompress(compressed)
				require.NoError(t, err)
				assert.Equal(t, payload, decompressed, "payload of %d bytes", len(payload))
			}
		})
	}
}

func TestCompressorsShrinkRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte("policy weights block "), 1024)

	for _, c := range []Compressor{S2Compressor{}, LZ4Compressor{}} {
		compressed, err := c.Compress(payload)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(payload), "%s should shrink repetitive data", c.Name())
	}
}
