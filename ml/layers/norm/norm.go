// Package norm implements the normalizations used by the spatio-temporal blocks: a group
// normalization over channel groups of `[batch, channels, <spatial...>]` inputs, and a layer
// normalization whose learned scale and offset are per normalized feature.
//
// Both follow the builder pattern: configure and then call Done.
package norm

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
)

const (
	// ParamGroups context hyperparameter defines the default number of channel groups of GroupNorm.
	// The default is 4.
	ParamGroups = "norm_groups"

	// ParamEpsilon context hyperparameter defines the default epsilon added to the variance.
	// The default is 1e-5.
	ParamEpsilon = "norm_epsilon"
)

// GroupNormBuilder is a helper to build a group normalization computation. Create it with GroupNorm,
// set the desired parameters and when all is set, call Done.
type GroupNormBuilder struct {
	ctx       *context.Context
	x         *Node
	numGroups int
	epsilon   float64
	affine    bool
}

// GroupNorm normalizes x shaped `[batch, channels, <spatial...>]` by splitting the channels in
// numGroups groups, and normalizing each group (over its channels and all spatial axes) to zero mean
// and unit variance, independently per example.
//
// A learned per-channel scale (initialized to 1) and offset (initialized to 0) are applied afterwards.
//
// If numGroups <= 0, it is taken from the context hyperparameter ParamGroups.
//
// Based on paper "Group Normalization" (Yuxin Wu, Kaiming He), https://arxiv.org/abs/1803.08494
func GroupNorm(ctx *context.Context, x *Node, numGroups int) *GroupNormBuilder {
	if numGroups <= 0 {
		numGroups = context.GetParamOr(ctx, ParamGroups, 4)
	}
	return &GroupNormBuilder{
		ctx:       ctx.In("group_norm"),
		x:         x,
		numGroups: numGroups,
		epsilon:   context.GetParamOr(ctx, ParamEpsilon, 1e-5),
		affine:    true,
	}
}

// Epsilon is a small float added to variance to avoid dividing by zero.
func (b *GroupNormBuilder) Epsilon(value float64) *GroupNormBuilder {
	b.epsilon = value
	return b
}

// Affine defines whether the learned per-channel scale and offset are used. Default is true.
func (b *GroupNormBuilder) Affine(value bool) *GroupNormBuilder {
	b.affine = value
	return b
}

// Done builds the normalization and returns the normalized x, with the same shape as the input.
func (b *GroupNormBuilder) Done() *Node {
	x := b.x
	shape := x.Shape()
	if shape.Rank() < 2 {
		Panicf("GroupNorm requires input shaped [batch, channels, ...], got %s", shape)
	}
	if !shape.DType.IsFloat() {
		Panicf("GroupNorm requires a float input, got %s", shape)
	}
	batchSize, numChannels := shape.Dimensions[0], shape.Dimensions[1]
	if b.numGroups <= 0 || numChannels%b.numGroups != 0 {
		Panicf("GroupNorm: %d channels are not divisible into %d groups", numChannels, b.numGroups)
	}

	// Group axis: [batch, groups, channelsPerGroup * <spatial...>].
	grouped := Reshape(x, batchSize, b.numGroups, -1)
	mean := ReduceAndKeep(grouped, ReduceMean, -1)
	normalized := Sub(grouped, mean)
	variance := ReduceAndKeep(Square(normalized), ReduceMean, -1)
	normalized = Div(normalized, Sqrt(AddScalar(variance, b.epsilon)))
	normalized = Reshape(normalized, shape.Dimensions...)
	if !b.affine {
		return normalized
	}

	g := x.Graph()
	paramShape := shapes.Make(shape.DType, numChannels)
	scale := b.ctx.WithInitializer(initializers.One).VariableWithShape("scale", paramShape).ValueGraph(g)
	offset := b.ctx.WithInitializer(initializers.Zero).VariableWithShape("offset", paramShape).ValueGraph(g)
	broadcastDims := make([]int, shape.Rank())
	for ii := range broadcastDims {
		broadcastDims[ii] = 1
	}
	broadcastDims[1] = numChannels
	normalized = Mul(normalized, Reshape(scale, broadcastDims...))
	return Add(normalized, Reshape(offset, broadcastDims...))
}

// LayerNormBuilder is a helper to build a layer normalization. Create it with LayerNorm, set the
// desired parameters and when all is set, call Done.
type LayerNormBuilder struct {
	ctx     *context.Context
	x       *Node
	epsilon float64
	affine  bool
}

// LayerNorm normalizes x over its last axis. The learned scale and offset are shaped like the
// last axis, so they are shared by every leading (batch or sequence) position.
func LayerNorm(ctx *context.Context, x *Node) *LayerNormBuilder {
	return &LayerNormBuilder{
		ctx:     ctx.In("layer_norm"),
		x:       x,
		epsilon: context.GetParamOr(ctx, ParamEpsilon, 1e-5),
		affine:  true,
	}
}

// Epsilon is a small float added to variance to avoid dividing by zero.
func (b *LayerNormBuilder) Epsilon(value float64) *LayerNormBuilder {
	b.epsilon = value
	return b
}

// Affine defines whether the learned scale and offset are used. Default is true.
func (b *LayerNormBuilder) Affine(value bool) *LayerNormBuilder {
	b.affine = value
	return b
}

// Done builds the normalization and returns the normalized x.
func (b *LayerNormBuilder) Done() *Node {
	x := b.x
	shape := x.Shape()
	if shape.Rank() < 1 || !shape.DType.IsFloat() {
		Panicf("LayerNorm requires a float input of rank >= 1, got %s", shape)
	}
	mean := ReduceAndKeep(x, ReduceMean, -1)
	normalized := Sub(x, mean)
	variance := ReduceAndKeep(Square(normalized), ReduceMean, -1)
	normalized = Div(normalized, Sqrt(AddScalar(variance, b.epsilon)))
	if !b.affine {
		return normalized
	}

	g := x.Graph()
	featureDim := shape.Dimensions[shape.Rank()-1]
	paramShape := shapes.Make(shape.DType, featureDim)
	scale := b.ctx.WithInitializer(initializers.One).VariableWithShape("scale", paramShape).ValueGraph(g)
	offset := b.ctx.WithInitializer(initializers.Zero).VariableWithShape("offset", paramShape).ValueGraph(g)
	scale = ExpandLeftToRank(scale, shape.Rank())
	offset = ExpandLeftToRank(offset, shape.Rank())
	return Add(Mul(normalized, scale), offset)
}
