package encoder

import (
	"math"
	"testing"

	"github.com/gomlx/exceptions"
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

func TestActivationFromName(t *testing.T) {
	for _, name := range []string{"relu", "gelu"} {
		fn, err := ActivationFromName(name)
		require.NoError(t, err)
		require.NotNil(t, fn)
	}
	_, err := ActivationFromName("tanh")
	require.ErrorContains(t, err, "relu/gelu")
}

func TestGelu(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	inputs := []float32{-2, -0.5, 0, 0.5, 2}
	output := ExecOnce(backend, func(x *Node) *Node { return Gelu(x) }, inputs)
	got := tensors.CopyFlatData[float32](output)
	for ii, x := range inputs {
		want := 0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2))
		assert.InDeltaf(t, want, float64(got[ii]), 1e-5, "gelu(%g)", x)
	}
}

func TestEncoderShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const seqLen, batch, embedDim = 6, 10, 16
	for _, numLayers := range []int{1, 2} {
		ctx := context.New()
		ctx.SetParam(initializers.ParamInitialSeed, int64(42))
		output := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			query := IotaFull(g, shapes.Make(dtypes.Float32, seqLen, batch, embedDim))
			query = Sin(DivScalar(query, 7))
			value := Cos(DivScalar(IotaFull(g, shapes.Make(dtypes.Float32, seqLen, batch, embedDim)), 11))
			return New(ctx, query, query, value).NumHeads(4).NumLayers(numLayers).Done()
		})
		require.Equal(t, []int{seqLen, batch, embedDim}, output.Shape().Dimensions)
		for _, v := range tensors.CopyFlatData[float32](output) {
			require.False(t, math.IsNaN(float64(v)))
		}

		// Each layer owns its variables.
		for ii := range numLayers {
			layerCtx := ctx.In("encoder").Inf("layer_%03d", ii)
			require.NotNilf(t, layerCtx.In("norm_1").In("layer_norm").GetVariable("scale"), "layer %d", ii)
		}
		require.Nil(t, ctx.In("encoder").Inf("layer_%03d", numLayers).In("norm_1").In("layer_norm").GetVariable("scale"))
	}
}

func TestEncoderConfigurationErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "test")
	x := Zeros(g, shapes.Make(dtypes.Float32, 5, 3, 10))

	err := exceptions.TryCatch[error](func() {
		_ = New(context.New(), x, x, x).NumHeads(4).Done()
	})
	require.ErrorContains(t, err, "not divisible")

	err = exceptions.TryCatch[error](func() {
		_ = New(context.New(), x, x, x).NumHeads(2).Activation("tanh").Done()
	})
	require.ErrorContains(t, err, "relu/gelu")
}

// The stack attends every layer with the same query/key, while the value flows through the layers.
func TestEncoderCrossQueryKey(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const seqLen, batch, embedDim, numLayers = 5, 3, 8, 2
	ctx := context.New()
	ctx.SetParam(initializers.ParamInitialSeed, int64(42))
	outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		positions := IotaFull(g, shapes.Make(dtypes.Float32, seqLen, batch, embedDim))
		itp := Sin(DivScalar(positions, 5))
		otherItp := Sin(DivScalar(positions, 3))
		value := Cos(DivScalar(positions, 11))
		stacked := New(ctx, itp, itp, value).NumHeads(2).NumLayers(numLayers).Done()

		// Same layers applied by hand, re-using the variables.
		reuseCtx := ctx.Reuse().In("encoder")
		cfg := layerConfig{numHeads: 2, feedForwardDim: 64, activation: "gelu", dropoutRate: 0.1}
		queryKey := TransposeAllDims(itp, 1, 0, 2)
		x := TransposeAllDims(value, 1, 0, 2)
		for ii := range numLayers {
			x = encoderLayer(reuseCtx.Inf("layer_%03d", ii), cfg, queryKey, queryKey, x)
		}
		byHand := TransposeAllDims(x, 1, 0, 2)

		otherQueryKey := New(ctx.Reuse(), otherItp, otherItp, value).NumHeads(2).NumLayers(numLayers).Done()
		return []*Node{stacked, byHand, otherQueryKey}
	})
	stacked := tensors.CopyFlatData[float32](outputs[0])
	byHand := tensors.CopyFlatData[float32](outputs[1])
	require.Len(t, byHand, len(stacked))
	for ii := range stacked {
		require.InDeltaf(t, stacked[ii], byHand[ii], 1e-5, "element #%d", ii)
	}
	assert.NotEqual(t, stacked, tensors.CopyFlatData[float32](outputs[2]))
}
