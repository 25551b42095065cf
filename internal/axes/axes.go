// Package axes holds the reshaping used by the spatio-temporal blocks to expose either the node
// axis or the time axis of a `[B, C, K, L]` feature tensor as the "sequence" axis, with the
// channel axis always kept as the embedding (last) axis.
package axes

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
)

// Dims holds the logical dimensions of a feature tensor shaped `[B, C, K, L]`.
type Dims struct {
	Batch, Channels, Nodes, Steps int
}

// Of returns the dimensions of the rank-4 feature tensor x. It panics if x is not rank-4.
func Of(x *Node) Dims {
	if x.Rank() != 4 {
		Panicf("feature tensor must be shaped [batch, channels, nodes, steps], got %s", x.Shape())
	}
	dims := x.Shape().Dimensions
	return Dims{Batch: dims[0], Channels: dims[1], Nodes: dims[2], Steps: dims[3]}
}

// NodesAsSequence converts `[B, C, K, L]` to `[B*L, K, C]`: one sequence of nodes per (example, time step).
func NodesAsSequence(x *Node) *Node {
	d := Of(x)
	x = TransposeAllDims(x, 0, 3, 2, 1) // [B, L, K, C]
	return Reshape(x, d.Batch*d.Steps, d.Nodes, d.Channels)
}

// FromNodesSequence is the inverse of NodesAsSequence.
func FromNodesSequence(seq *Node, d Dims) *Node {
	seq = Reshape(seq, d.Batch, d.Steps, d.Nodes, d.Channels)
	return TransposeAllDims(seq, 0, 3, 2, 1)
}

// TimeAsSequence converts `[B, C, K, L]` to the time-major `[L, B*K, C]` layout used by the temporal encoder.
func TimeAsSequence(x *Node) *Node {
	d := Of(x)
	x = TransposeAllDims(x, 3, 0, 2, 1) // [L, B, K, C]
	return Reshape(x, d.Steps, d.Batch*d.Nodes, d.Channels)
}

// FromTimeSequence is the inverse of TimeAsSequence.
func FromTimeSequence(seq *Node, d Dims) *Node {
	seq = Reshape(seq, d.Steps, d.Batch, d.Nodes, d.Channels)
	return TransposeAllDims(seq, 1, 3, 2, 0)
}

// ChannelsLast converts `[B, C, K, L]` to `[B, K, L, C]`, so position-wise dense layers act on channels.
func ChannelsLast(x *Node) *Node {
	return TransposeAllDims(x, 0, 2, 3, 1)
}

// ChannelsFirst is the inverse of ChannelsLast.
func ChannelsFirst(x *Node) *Node {
	return TransposeAllDims(x, 0, 3, 1, 2)
}
