package quantization

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float32Payload(values []float32) []byte {
	payload := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
	}
	return payload
}

func rampPayload(n int) []byte {
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(i) / float32(n)
	}
	return float32Payload(values)
}

func TestQuantizeRatioAtEightBits(t *testing.T) {
	payload := rampPayload(256) // 1024 bytes

	q, err := NewCodec(0).Quantize(payload, 8)
	require.NoError(t, err)

	assert.Equal(t, 1024, q.OriginalSize)
	assert.Equal(t, 256, q.CompressedSize)
	assert.Greater(t, q.Ratio, 3.5)
	assert.Equal(t, 8, q.BitsPerValue)
}

func TestCompressedNeverLarger(t *testing.T) {
	codec := NewCodec(0)

	payloads := [][]byte{
		nil,
		{0x01},
		{0x01, 0x02, 0x03},
		float32Payload([]float32{1.5}),
		rampPayload(3),
		rampPayload(1000),
	}

	for _, payload := range payloads {
		for _, bits := range SupportedBits {
			q, err := codec.Quantize(payload, bits)
			require.NoError(t, err)
			assert.LessOrEqual(t, q.CompressedSize, q.OriginalSize,
				"payload of %d bytes at %d bits", len(payload), bits)
		}
	}
}

func TestRatioMonotonicInBits(t *testing.T) {
	codec := NewCodec(0)
	payload := rampPayload(512)

	var prev float64 = math.Inf(1)
	for _, bits := range SupportedBits {
		q, err := codec.Quantize(payload, bits)
		require.NoError(t, err)
		assert.LessOrEqual(t, q.Ratio, prev, "ratio must not increase with bit-width")
		prev = q.Ratio
	}
}

func TestQualityLossMonotonicInBits(t *testing.T) {
	codec := NewCodec(0)
	payload := rampPayload(512)

	var prev = math.Inf(1)
	for _, bits := range SupportedBits {
		q, err := codec.Quantize(payload, bits)
		require.NoError(t, err)
		assert.LessOrEqual(t, q.QualityLoss, prev, "loss must not increase with bit-width")
		prev = q.QualityLoss
	}
}

func TestThirtyTwoBitsIsPassthrough(t *testing.T) {
	payload := rampPayload(64)

	q, err := NewCodec(0).Quantize(payload, 32)
	require.NoError(t, err)

	assert.Equal(t, float64(0), q.QualityLoss)
	assert.InDelta(t, 1.0, q.Ratio, 1e-9)
	assert.Equal(t, payload, Dequantize(q))
}

func TestQuantizeDeterministic(t *testing.T) {
	codec := NewCodec(0)
	payload := rampPayload(128)

	a, err := codec.Quantize(payload, 4)
	require.NoError(t, err)
	b, err := codec.Quantize(payload, 4)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestAccuracyThresholdViolated(t *testing.T) {
	// A wide value range at 4 bits produces measurable loss.
	payload := rampPayload(256)

	codec := NewCodec(1e-9)
	_, err := codec.Quantize(payload, 4)

	var accErr *AccuracyError
	require.ErrorAs(t, err, &accErr)
	assert.Equal(t, 4, accErr.Bits)
	assert.Greater(t, accErr.Loss, accErr.Threshold)

	// The same payload passes with a generous bound.
	_, err = NewCodec(0.5).Quantize(payload, 4)
	assert.NoError(t, err)
}

func TestDequantizeApproximatesOriginal(t *testing.T) {
	values := []float32{-2.0, -1.0, 0.0, 0.5, 1.0, 2.0}
	payload := float32Payload(values)

	q, err := NewCodec(0).Quantize(payload, 8)
	require.NoError(t, err)

	recon := Dequantize(q)
	require.Len(t, recon, len(payload))

	for i, want := range values {
		got := math.Float32frombits(binary.LittleEndian.Uint32(recon[i*4:]))
		assert.InDelta(t, want, got, 0.02, "value %d", i)
	}
}

func TestTailCarriedVerbatim(t *testing.T) {
	payload := append(rampPayload(4), 0xDE, 0xAD, 0xBE)

	q, err := NewCodec(0).Quantize(payload, 8)
	require.NoError(t, err)

	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE}, q.Tail)
	recon := Dequantize(q)
	assert.Equal(t, payload[len(payload)-3:], recon[len(recon)-3:])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := append(rampPayload(33), 0x7F)

	for _, bits := range SupportedBits {
		q, err := NewCodec(0).Quantize(payload, bits)
		require.NoError(t, err)

		if bits == 32 {
			continue // Encode targets the quantized form
		}

		decoded, err := Decode(Encode(q), bits, len(payload))
		require.NoError(t, err)

		assert.Equal(t, q.Count, decoded.Count)
		assert.Equal(t, q.Min, decoded.Min)
		assert.Equal(t, q.Max, decoded.Max)
		assert.Equal(t, Dequantize(q), Dequantize(decoded), "bits=%d", bits)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, 8, 100)
	assert.Error(t, err)

	q, err := NewCodec(0).Quantize(rampPayload(16), 8)
	require.NoError(t, err)

	buf := Encode(q)
	_, err = Decode(buf[:len(buf)-4], 8, 64)
	assert.Error(t, err)
}

func TestClampBits(t *testing.T) {
	assert.Equal(t, 4, ClampBits(0))
	assert.Equal(t, 4, ClampBits(4))
	assert.Equal(t, 8, ClampBits(5))
	assert.Equal(t, 16, ClampBits(9))
	assert.Equal(t, 32, ClampBits(17))
	assert.Equal(t, 32, ClampBits(64))
}

func TestFourBitPacking(t *testing.T) {
	// Two values per byte, low nibble first.
	codes := []uint32{0x1, 0x2, 0x3}
	packed := packCodes(codes, 4)
	require.Equal(t, []byte{0x21, 0x03}, packed)
	assert.Equal(t, codes, unpackCodes(packed, 4, 3))
}
