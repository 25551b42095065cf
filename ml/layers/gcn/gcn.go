// Package gcn implements a graph convolution over the node axis of `[batch, channels, nodes, steps]`
// features, mixing multi-hop diffusions over fixed support matrices and an optional adjacency
// learned from node embeddings.
//
// Based on "Graph WaveNet for Deep Spatial-Temporal Graph Modeling" (Wu et al.), https://arxiv.org/abs/1906.00121
package gcn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/tensors/images"
	"k8s.io/klog/v2"
)

const (
	// ParamOrder is the context hyperparameter with the default number of diffusion hops per support.
	ParamOrder = "gcn_order"

	// ParamIncludeSelf is the context hyperparameter that defines whether the un-diffused input is
	// part of the mixed features.
	ParamIncludeSelf = "gcn_include_self"
)

// Supports is the set of adjacency matrices the convolution diffuses over.
type Supports struct {
	// Fixed supports, each shaped `[nodes, nodes]`.
	Fixed []*Node

	// NodeVec1 `[nodes, rank]` and NodeVec2 `[rank, nodes]` are the factors of the adaptive adjacency.
	// Both nil disables it.
	NodeVec1, NodeVec2 *Node
}

// IsAdaptive returns whether the adaptive adjacency factors are set.
func (s Supports) IsAdaptive() bool {
	return s.NodeVec1 != nil && s.NodeVec2 != nil
}

// Len returns the number of supports the convolution diffuses over, including the adaptive one.
func (s Supports) Len() int {
	n := len(s.Fixed)
	if s.IsAdaptive() {
		n++
	}
	return n
}

// SplitSupports converts the flat list form of supports, where the adaptive factors (if adaptive
// is true) are the trailing pair of elements, to Supports.
func SplitSupports(list []*Node, adaptive bool) Supports {
	if !adaptive {
		return Supports{Fixed: list}
	}
	if len(list) < 2 {
		Panicf("adaptive supports require the node vectors pair as the last two elements, got %d elements", len(list))
	}
	n := len(list)
	return Supports{Fixed: list[:n-2], NodeVec1: list[n-2], NodeVec2: list[n-1]}
}

// AdaptiveAdjacency returns `softmax(relu(nodeVec1 · nodeVec2), axis=1)`, a `[nodes, nodes]` matrix whose
// rows sum to 1.
func AdaptiveAdjacency(nodeVec1, nodeVec2 *Node) *Node {
	if nodeVec1.Rank() != 2 || nodeVec2.Rank() != 2 ||
		nodeVec1.Shape().Dimensions[1] != nodeVec2.Shape().Dimensions[0] ||
		nodeVec1.Shape().Dimensions[0] != nodeVec2.Shape().Dimensions[1] {
		Panicf("adaptive adjacency requires node vectors shaped [nodes, rank] and [rank, nodes], got %s and %s",
			nodeVec1.Shape(), nodeVec2.Shape())
	}
	return Softmax(activations.Relu(Dot(nodeVec1, nodeVec2)), 1)
}

// Builder for the graph convolution. Create it with New, configure it and call Done.
type Builder struct {
	ctx            *context.Context
	x              *Node
	supports       Supports
	order          int
	includeSelf    bool
	outputChannels int
}

// New creates a graph convolution over x shaped `[batch, channels, nodes, steps]`.
func New(ctx *context.Context, x *Node, supports Supports) *Builder {
	return &Builder{
		ctx:         ctx.In("gcn"),
		x:           x,
		supports:    supports,
		order:       context.GetParamOr(ctx, ParamOrder, 2),
		includeSelf: context.GetParamOr(ctx, ParamIncludeSelf, true),
	}
}

// Order sets the number of hops of diffusion for each support. Default is 2.
func (b *Builder) Order(order int) *Builder {
	b.order = order
	return b
}

// IncludeSelf defines whether the input itself (0 hops) is part of the mixed features. Default is true.
func (b *Builder) IncludeSelf(includeSelf bool) *Builder {
	b.includeSelf = includeSelf
	return b
}

// OutputChannels sets the number of output channels. Default is the number of input channels.
func (b *Builder) OutputChannels(channels int) *Builder {
	b.outputChannels = channels
	return b
}

// Done builds the graph convolution and returns the result shaped `[batch, outputChannels, nodes, steps]`.
//
// With a single node there is nothing to diffuse over and x is returned unchanged.
func (b *Builder) Done() *Node {
	x := b.x
	if x.Rank() != 4 {
		Panicf("gcn requires x shaped [batch, channels, nodes, steps], got %s", x.Shape())
	}
	numChannels, numNodes := x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	if numNodes == 1 {
		klog.V(2).Infof("gcn %q: single node, passthrough", b.ctx.Scope())
		return x
	}
	if b.order < 1 {
		Panicf("gcn order must be >= 1, got %d", b.order)
	}
	supports := make([]*Node, 0, b.supports.Len())
	supports = append(supports, b.supports.Fixed...)
	if b.supports.IsAdaptive() {
		supports = append(supports, AdaptiveAdjacency(b.supports.NodeVec1, b.supports.NodeVec2))
	}
	if len(supports) == 0 {
		Panicf("gcn requires at least one support")
	}

	parts := make([]*Node, 0, 1+b.order*len(supports))
	if b.includeSelf {
		parts = append(parts, x)
	}
	for ii, adjacency := range supports {
		if adjacency.Rank() != 2 || adjacency.Shape().Dimensions[0] != numNodes || adjacency.Shape().Dimensions[1] != numNodes {
			Panicf("gcn support #%d must be shaped [%d, %d], got %s", ii, numNodes, numNodes, adjacency.Shape())
		}
		adjacency = ConvertDType(adjacency, x.DType())
		hop := x
		for range b.order {
			hop = Einsum("bcvl,wv->bcwl", hop, adjacency)
			parts = append(parts, hop)
		}
	}
	mixed := Concatenate(parts, 1)

	outputChannels := b.outputChannels
	if outputChannels <= 0 {
		outputChannels = numChannels
	}
	return layers.Convolution(b.ctx, mixed).
		Filters(outputChannels).
		KernelSize(1).
		ChannelsAxis(images.ChannelsFirst).
		UseBias(true).
		Done()
}
