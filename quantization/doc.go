// Package quantization provides lossy bit-width reduction for policy payloads
// and lossless compressors for opaque blobs.
//
// Payload bytes are interpreted as a little-endian float32 stream. Each value
// is mapped onto a uniform grid between the payload's minimum and maximum and
// stored with 4, 8 or 16 bits; 32 bits is a pass-through. The reported
// quality loss is the measured normalized RMS reconstruction error, never an
// estimate drawn from randomness.
package quantization
