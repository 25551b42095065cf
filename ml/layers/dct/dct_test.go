package dct

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// referenceDCT is the closed-form unnormalized DCT-II.
func referenceDCT(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	for k := range n {
		for ii, v := range x {
			out[k] += v * math.Cos(math.Pi*float64(k)*float64(2*ii+1)/float64(2*n))
		}
		out[k] *= 2
	}
	return out
}

func TestDCT(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, n := range []int{1, 4, 7, 8} {
		rows := [][]float64{make([]float64, n), make([]float64, n)}
		for ii := range n {
			rows[0][ii] = float64(ii + 1)
			rows[1][ii] = math.Sin(float64(3*ii)) - 0.25
		}
		output := ExecOnce(backend, func(x *Node) *Node { return DCT(x) }, rows)
		require.Equal(t, []int{2, n}, output.Shape().Dimensions)
		got := output.Value().([][]float64)
		for row := range rows {
			assert.InDeltaSlicef(t, referenceDCT(rows[row]), got[row], 1e-9, "n=%d, row=%d", n, row)
		}
	}
}

func TestDCTFloat32(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	input := [][][]float32{{{1, 2, 3, 4, 5, 6}}}
	output := ExecOnce(backend, func(x *Node) *Node { return DCT(x) }, input)
	require.Equal(t, dtypes.Float32, output.DType())
	want := referenceDCT([]float64{1, 2, 3, 4, 5, 6})
	got := output.Value().([][][]float32)[0][0]
	for k := range want {
		assert.InDelta(t, want[k], float64(got[k]), 1e-3)
	}
}

func TestDCTOrtho(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	input := []float64{0.5, -1, 2, 3}
	output := ExecOnce(backend, func(x *Node) *Node { return DCTOrtho(x) }, input)
	got := output.Value().([]float64)
	want := referenceDCT(input)
	n := float64(len(input))
	for k := range want {
		scale := 1.0 / (2 * math.Sqrt(n/2))
		if k == 0 {
			scale = 1.0 / (2 * math.Sqrt(n))
		}
		assert.InDelta(t, want[k]*scale, got[k], 1e-9)
	}

	// Orthonormal: the energy is preserved.
	var energyIn, energyOut float64
	for ii := range input {
		energyIn += input[ii] * input[ii]
		energyOut += got[ii] * got[ii]
	}
	assert.InDelta(t, energyIn, energyOut, 1e-9)
}

func TestChannelGate(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const batch, seqLen, features = 2, 5, 8
	for _, normalize := range []bool{true, false} {
		ctx := context.New()
		ctx.SetParam(initializers.ParamInitialSeed, int64(42))
		outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
			x := Sin(IotaFull(g, shapes.Make(dtypes.Float32, batch, seqLen, features)))
			output, gate := ChannelGate(ctx, x).GateNormalization(normalize).DoneWithGate()
			return []*Node{x, output, gate}
		})
		x := tensors.CopyFlatData[float32](outputs[0])
		output := tensors.CopyFlatData[float32](outputs[1])
		gate := tensors.CopyFlatData[float32](outputs[2])
		require.Equal(t, []int{batch, seqLen, features}, outputs[1].Shape().Dimensions)
		for ii := range x {
			assert.InDelta(t, x[ii]*gate[ii], output[ii], 1e-6)
			if !normalize {
				assert.Greater(t, gate[ii], float32(0))
				assert.Less(t, gate[ii], float32(1))
			}
		}

		// Normalization variables are created once and shared.
		normScope := ctx.In("dct_gate").In("dct_norm").In("layer_norm")
		require.NotNil(t, normScope.GetVariable("scale"))
		assert.Equal(t, []int{features}, normScope.GetVariable("scale").Shape().Dimensions)
		assert.Equal(t, []int{features, 2 * features},
			ctx.In("dct_gate").In("fc_1").In("dense").GetVariable("weights").Shape().Dimensions)
		assert.Nil(t, ctx.In("dct_gate").In("fc_1").In("dense").GetVariable("biases"))
	}
}
