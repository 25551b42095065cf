package tcn

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestTemporalConvolution(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const batch, channels, numNodes, steps = 2, 4, 3, 9
	testCases := []struct {
		name                          string
		filters, kernelSize, dilation int
	}{
		{"same_channels", 0, 3, 1},
		{"dilated", 0, 3, 2},
		{"projected_shortcut", 6, 2, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParam(initializers.ParamInitialSeed, int64(42))
			output := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				x := Sin(IotaFull(g, shapes.Make(dtypes.Float32, batch, channels, numNodes, steps)))
				return New(ctx, x).Filters(tc.filters).KernelSize(tc.kernelSize).Dilation(tc.dilation).Done()
			})
			wantChannels := channels
			if tc.filters > 0 {
				wantChannels = tc.filters
			}
			require.Equal(t, []int{batch, wantChannels, numNodes, steps}, output.Shape().Dimensions)

			weights := ctx.In("tcn").In("conv").GetVariable("weights")
			require.NotNil(t, weights)
			assert.Equal(t, []int{channels, 3, tc.kernelSize, wantChannels}, weights.Shape().Dimensions)
			assert.Equal(t, tc.filters > 0, ctx.In("tcn").In("shortcut").In("conv").GetVariable("weights") != nil)
		})
	}
}

// Changing the input at a time step must not change the output at earlier steps.
func TestTemporalConvolutionIsCausal(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	const batch, channels, numNodes, steps, changedStep = 1, 2, 4, 8, 5
	ctx := context.New()
	ctx.SetParam(initializers.ParamInitialSeed, int64(42))
	outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		shape := shapes.Make(dtypes.Float32, batch, channels, numNodes, steps)
		x := Cos(IotaFull(g, shape))
		stepIndex := Iota(g, shape, 3)
		changed := Where(Equal(stepIndex, Scalar(g, dtypes.Float32, changedStep)), AddScalar(x, 10), x)
		return []*Node{
			New(ctx, x).Dilation(2).Done(),
			New(ctx.Reuse(), changed).Dilation(2).Done(),
		}
	})
	original := outputs[0].Value().([][][][]float32)
	changed := outputs[1].Value().([][][][]float32)
	for c := range channels {
		for k := range numNodes {
			for l := range changedStep {
				assert.InDeltaf(t, original[0][c][k][l], changed[0][c][k][l], 1e-6, "c=%d, k=%d, l=%d", c, k, l)
			}
			assert.NotEqual(t, original[0][c][k][changedStep], changed[0][c][k][changedStep])
		}
	}
}
