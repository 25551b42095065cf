package linformer

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

func TestLinformerShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const batch, seqLen, embedDim, k = 3, 7, 16, 4
	testCases := []struct {
		name      string
		cross     bool
		oneKVHead bool
		shareKV   bool
	}{
		{name: "self"},
		{name: "cross", cross: true},
		{name: "one_kv_head", oneKVHead: true},
		{name: "share_kv", shareKV: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParam(initializers.ParamInitialSeed, int64(42))
			output := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				x := Sin(IotaFull(g, shapes.Make(dtypes.Float32, batch, seqLen, embedDim)))
				builder := New(ctx, x, seqLen, k).NumHeads(4).OneKVHead(tc.oneKVHead).ShareKV(tc.shareKV)
				if tc.cross {
					builder.CrossInput(Cos(x))
				}
				return builder.Done()
			})
			require.Equal(t, []int{batch, seqLen, embedDim}, output.Shape().Dimensions)
			for _, v := range tensors.CopyFlatData[float32](output) {
				require.False(t, math.IsNaN(float64(v)))
			}

			scope := ctx.In("linformer")
			require.NotNil(t, scope.GetVariable("proj_k"))
			assert.Equal(t, tc.shareKV, scope.GetVariable("proj_v") == nil)
		})
	}
}

func TestLinformerProjectionInitialization(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const seqLen, k = 10, 16
	ctx := context.New()
	ctx.SetParam(initializers.ParamInitialSeed, int64(42))
	_ = context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := Ones(g, shapes.Make(dtypes.Float32, 2, seqLen, 8))
		return New(ctx, x, seqLen, k).NumHeads(2).Done()
	})
	projK := ctx.In("linformer").GetVariable("proj_k")
	require.NotNil(t, projK)
	require.Equal(t, []int{seqLen, k}, projK.Shape().Dimensions)
	bound := 1.0 / math.Sqrt(k)
	for _, v := range tensors.CopyFlatData[float32](projK.Value()) {
		require.LessOrEqual(t, math.Abs(float64(v)), bound)
	}
}

func TestLinformerSequenceLengthMismatch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "test")
	x := Zeros(g, shapes.Make(dtypes.Float32, 2, 7, 8))
	err := exceptions.TryCatch[error](func() {
		_ = New(context.New(), x, 10, 4).NumHeads(2).Done()
	})
	require.ErrorContains(t, err, "must be 10 - 7 given")

	err = exceptions.TryCatch[error](func() {
		_ = New(context.New(), x, 7, 4).NumHeads(3).Done()
	})
	require.ErrorContains(t, err, "divisible")
}
