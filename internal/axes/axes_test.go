package axes

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestRoundTrips(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	const batch, channels, nodes, steps = 2, 3, 4, 5
	outputs := context.ExecOnceN(backend, ctx, func(ctx *context.Context, g *Graph) []*Node {
		x := IotaFull(g, shapes.Make(dtypes.Float32, batch, channels, nodes, steps))
		d := Of(x)
		nodesSeq := NodesAsSequence(x)
		timeSeq := TimeAsSequence(x)
		require.Equal(t, []int{batch * steps, nodes, channels}, nodesSeq.Shape().Dimensions)
		require.Equal(t, []int{steps, batch * nodes, channels}, timeSeq.Shape().Dimensions)
		return []*Node{
			x,
			FromNodesSequence(nodesSeq, d),
			FromTimeSequence(timeSeq, d),
			ChannelsFirst(ChannelsLast(x)),
			nodesSeq,
			timeSeq,
		}
	})
	want := tensors.CopyFlatData[float32](outputs[0])
	for ii := 1; ii <= 3; ii++ {
		require.Equalf(t, want, tensors.CopyFlatData[float32](outputs[ii]), "round trip #%d", ii)
	}

	// Element (b=1, c=2, k=3, l=4) lands in nodes-sequence row b*L+l, position k, feature c.
	flatIndex := func(b, c, k, l int) float32 {
		return float32(((b*channels+c)*nodes+k)*steps + l)
	}
	nodesSeq := outputs[4].Value().([][][]float32)
	require.Equal(t, flatIndex(1, 2, 3, 4), nodesSeq[1*steps+4][3][2])
	// ... and in time-sequence step l, row b*K+k, feature c.
	timeSeq := outputs[5].Value().([][][]float32)
	require.Equal(t, flatIndex(1, 2, 3, 4), timeSeq[4][1*nodes+3][2])
}

func TestOfRejectsWrongRank(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "test")
	require.Panics(t, func() { Of(Zeros(g, shapes.Make(dtypes.Float32, 2, 3, 4))) })
}
