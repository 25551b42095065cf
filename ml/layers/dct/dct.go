// Package dct implements the discrete cosine transform (DCT-II) along the last axis, computed with
// a complex FFT, and a frequency-domain channel gate built on it.
package dct

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// DCT returns the unnormalized DCT-II of x along its last axis:
//
//	X_k = 2 * Σ_n x_n * cos(π * k * (2n + 1) / (2N))
//
// It is computed with a single complex FFT of length N over the reordered input (even elements
// followed by the reversed odd elements), followed by a twiddle rotation.
func DCT(x *Node) *Node {
	return dct(x, false)
}

// DCTOrtho is like DCT, but with the orthonormal scaling: X_0 is divided by 2*sqrt(N), and the other
// coefficients by 2*sqrt(N/2).
func DCTOrtho(x *Node) *Node {
	return dct(x, true)
}

func dct(x *Node, ortho bool) *Node {
	if x.Rank() < 1 {
		Panicf("DCT requires an input with rank >= 1, got %s", x.Shape())
	}
	dtype := x.DType()
	if !dtype.IsFloat() {
		Panicf("DCT requires a float input, got %s", x.Shape())
	}
	rank := x.Rank()
	n := x.Shape().Dimensions[rank-1]
	g := x.Graph()

	// Compute in float32 (complex64), unless given float64.
	computeDType, complexDType := dtypes.Float32, dtypes.Complex64
	if dtype == dtypes.Float64 {
		computeDType, complexDType = dtypes.Float64, dtypes.Complex128
	}
	v := ConvertDType(x, computeDType)
	if n > 1 {
		even := Slice(v, lastAxisSpec(rank, AxisRange().Stride(2))...)
		odd := Slice(v, lastAxisSpec(rank, AxisRange(1).Stride(2))...)
		v = Concatenate([]*Node{even, Reverse(odd, rank-1)}, -1)
	}
	spectrum := FFT(ConvertDType(v, complexDType))

	// Twiddle factors: exp(-iπk/2N) applied to the real part of the product.
	angles := Iota(g, shapes.Make(computeDType, n), 0)
	angles = MulScalar(angles, -math.Pi/float64(2*n))
	angles = ExpandLeftToRank(angles, rank)
	output := Sub(Mul(Real(spectrum), Cos(angles)), Mul(Imag(spectrum), Sin(angles)))

	if ortho {
		scales := make([]float64, n)
		scales[0] = 1.0 / (2 * math.Sqrt(float64(n)))
		for k := 1; k < n; k++ {
			scales[k] = 1.0 / (2 * math.Sqrt(float64(n)/2))
		}
		output = Mul(output, ExpandLeftToRank(ConvertDType(Const(g, scales), computeDType), rank))
	}
	output = MulScalar(output, 2)
	return ConvertDType(output, dtype)
}

// lastAxisSpec returns the slice specification that takes every axis in full, but for the last one.
func lastAxisSpec(rank int, last SliceAxisSpec) []SliceAxisSpec {
	specs := make([]SliceAxisSpec, rank)
	for ii := range rank - 1 {
		specs[ii] = AxisRange()
	}
	specs[rank-1] = last
	return specs
}
