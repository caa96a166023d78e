//go:build goexperiment.simd && amd64
// +build goexperiment.simd,amd64

// SIMD-accelerated operations for NNUE evaluation.
// Requires Go 1.26+ with GOEXPERIMENT=simd on AMD64 architecture.
// ARM64 support is not yet available in Go's experimental SIMD package.

package sfnnue

import (
	"simd/archsimd"
)

// Number of int16 values processed per SIMD iteration (256-bit AVX2)
const simdInt16Width = 16

// SIMDAddInt16 adds weights to accumulator using SIMD.
// dst[i] += src[i] for all i in range
func SIMDAddInt16(dst, src []int16) {
	n := len(dst)
	if n != len(src) {
		panic("SIMDAddInt16: slice length mismatch")
	}

	// Process 16 int16 values at a time (256-bit)
	i := 0
	for ; i+simdInt16Width <= n; i += simdInt16Width {
		d := archsimd.LoadInt16x16(dst[i:])
		s := archsimd.LoadInt16x16(src[i:])
		archsimd.StoreInt16x16(dst[i:], d.Add(s))
	}

	// Handle remaining elements
	for ; i < n; i++ {
		dst[i] += src[i]
	}
}

// SIMDSubInt16 subtracts weights from accumulator using SIMD.
// dst[i] -= src[i] for all i in range
func SIMDSubInt16(dst, src []int16) {
	n := len(dst)
	if n != len(src) {
		panic("SIMDSubInt16: slice length mismatch")
	}

	// Process 16 int16 values at a time (256-bit)
	i := 0
	for ; i+simdInt16Width <= n; i += simdInt16Width {
		d := archsimd.LoadInt16x16(dst[i:])
		s := archsimd.LoadInt16x16(src[i:])
		archsimd.StoreInt16x16(dst[i:], d.Sub(s))
	}

	// Handle remaining elements
	for ; i < n; i++ {
		dst[i] -= src[i]
	}
}
