package quantization

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SupportedBits are the bit-widths the codec accepts. Other values are
// clamped to the next larger supported width.
var SupportedBits = []int{4, 8, 16, 32}

// AccuracyError is returned when quantization would exceed the configured
// quality-loss bound. Retrying with a higher bit-width is the usual recovery.
type AccuracyError struct {
	Loss      float64
	Threshold float64
	Bits      int
}

func (e *AccuracyError) Error() string {
	return fmt.Sprintf("quantization: quality loss %.4f exceeds threshold %.4f at %d bits", e.Loss, e.Threshold, e.Bits)
}

// Quantized is the immutable result of a Quantize call.
//
// CompressedSize counts the packed value bytes plus the verbatim remainder;
// the fixed min/max/count header written by Encode is reported separately via
// HeaderSize so that CompressedSize <= OriginalSize holds for every payload.
type Quantized struct {
	BitsPerValue   int
	OriginalSize   int
	CompressedSize int
	Ratio          float64 // OriginalSize / CompressedSize
	QualityLoss    float64 // normalized RMS reconstruction error, 0 at 32 bits

	Min, Max float32
	Count    int    // number of quantized float32 values
	Data     []byte // packed values
	Tail     []byte // trailing bytes not forming a full float32, verbatim
}

// HeaderSize is the fixed overhead Encode prepends: min, max (float32) and
// value count (uint32).
const HeaderSize = 12

// Codec quantizes payloads at a configurable bit-width.
type Codec struct {
	// AccuracyThreshold bounds the tolerated quality loss. 0 disables the
	// check.
	AccuracyThreshold float64
}

// NewCodec creates a codec. threshold <= 0 disables the accuracy check.
func NewCodec(threshold float64) *Codec {
	return &Codec{AccuracyThreshold: threshold}
}

// ClampBits maps an arbitrary bit-width onto the supported set.
func ClampBits(bits int) int {
	switch {
	case bits <= 4:
		return 4
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	default:
		return 32
	}
}

// Quantize compresses payload at the given bit-width. The result is
// deterministic for identical (payload, bits).
func (c *Codec) Quantize(payload []byte, bits int) (*Quantized, error) {
	bits = ClampBits(bits)

	n := len(payload) / 4
	tail := payload[n*4:]

	if bits == 32 || n == 0 {
		data := make([]byte, len(payload))
		copy(data, payload)
		q := &Quantized{
			BitsPerValue:   32,
			OriginalSize:   len(payload),
			CompressedSize: len(payload),
			Ratio:          1,
			Count:          n,
			Data:           data[:n*4],
			Tail:           data[n*4:],
		}
		return q, nil
	}

	values := make([]float32, n)
	minV := float32(math.MaxFloat32)
	maxV := float32(-math.MaxFloat32)
	for i := 0; i < n; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		values[i] = v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	levels := float64(uint64(1)<<bits - 1)
	rangeV := float64(maxV - minV)

	codes := make([]uint32, n)
	if rangeV > 0 {
		scale := levels / rangeV
		for i, v := range values {
			codes[i] = uint32(float64(v-minV)*scale + 0.5) // round to nearest
		}
	}

	data := packCodes(codes, bits)

	// Measure the loss against the reconstruction rather than estimating it.
	var sumSq float64
	if rangeV > 0 {
		step := rangeV / levels
		for i, v := range values {
			recon := float64(minV) + float64(codes[i])*step
			d := (recon - float64(v)) / rangeV
			sumSq += d * d
		}
	}
	loss := math.Sqrt(sumSq / float64(n))

	if c != nil && c.AccuracyThreshold > 0 && loss > c.AccuracyThreshold {
		return nil, &AccuracyError{Loss: loss, Threshold: c.AccuracyThreshold, Bits: bits}
	}

	tailCopy := make([]byte, len(tail))
	copy(tailCopy, tail)

	compressed := len(data) + len(tailCopy)
	q := &Quantized{
		BitsPerValue:   bits,
		OriginalSize:   len(payload),
		CompressedSize: compressed,
		Min:            minV,
		Max:            maxV,
		QualityLoss:    loss,
		Count:          n,
		Data:           data,
		Tail:           tailCopy,
	}
	if compressed > 0 {
		q.Ratio = float64(q.OriginalSize) / float64(compressed)
	}
	return q, nil
}

// Dequantize reconstructs the payload bytes. The reconstruction is lossy for
// bits < 32.
func Dequantize(q *Quantized) []byte {
	out := make([]byte, q.Count*4+len(q.Tail))

	if q.BitsPerValue == 32 {
		copy(out, q.Data)
		copy(out[q.Count*4:], q.Tail)
		return out
	}

	levels := float64(uint64(1)<<q.BitsPerValue - 1)
	step := float64(q.Max-q.Min) / levels
	codes := unpackCodes(q.Data, q.BitsPerValue, q.Count)
	for i, code := range codes {
		v := float32(float64(q.Min) + float64(code)*step)
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	copy(out[q.Count*4:], q.Tail)
	return out
}

// Encode serializes q for caching or backing-store sync:
// [min:float32][max:float32][count:uint32][packed][tail].
func Encode(q *Quantized) []byte {
	buf := make([]byte, HeaderSize+len(q.Data)+len(q.Tail))
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(q.Min))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(q.Max))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(q.Count))
	copy(buf[HeaderSize:], q.Data)
	copy(buf[HeaderSize+len(q.Data):], q.Tail)
	return buf
}

// Decode reverses Encode. bits and originalSize must match the Quantize call.
func Decode(buf []byte, bits, originalSize int) (*Quantized, error) {
	bits = ClampBits(bits)
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("quantization: encoded payload too short: %d bytes", len(buf))
	}

	count := int(binary.LittleEndian.Uint32(buf[8:12]))
	packed := packedLen(count, bits)
	if HeaderSize+packed > len(buf) {
		return nil, fmt.Errorf("quantization: encoded payload truncated: want %d packed bytes", packed)
	}

	q := &Quantized{
		BitsPerValue:   bits,
		OriginalSize:   originalSize,
		CompressedSize: len(buf) - HeaderSize,
		Min:            math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4])),
		Max:            math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8])),
		Count:          count,
		Data:           buf[HeaderSize : HeaderSize+packed],
		Tail:           buf[HeaderSize+packed:],
	}
	if q.CompressedSize > 0 {
		q.Ratio = float64(originalSize) / float64(q.CompressedSize)
	}
	return q, nil
}

func packedLen(count, bits int) int {
	return (count*bits + 7) / 8
}

// packCodes packs codes at the given width. 4-bit codes are stored two per
// byte, low nibble first.
func packCodes(codes []uint32, bits int) []byte {
	data := make([]byte, packedLen(len(codes), bits))
	switch bits {
	case 4:
		for i, code := range codes {
			if i%2 == 0 {
				data[i/2] = byte(code & 0x0F)
			} else {
				data[i/2] |= byte(code&0x0F) << 4
			}
		}
	case 8:
		for i, code := range codes {
			data[i] = byte(code)
		}
	case 16:
		for i, code := range codes {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(code))
		}
	}
	return data
}

func unpackCodes(data []byte, bits, count int) []uint32 {
	codes := make([]uint32, count)
	switch bits {
	case 4:
		for i := range codes {
			b := data[i/2]
			if i%2 == 0 {
				codes[i] = uint32(b & 0x0F)
			} else {
				codes[i] = uint32(b >> 4)
			}
		}
	case 8:
		for i := range codes {
			codes[i] = uint32(data[i])
		}
	case 16:
		for i := range codes {
			codes[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	}
	return codes
}
