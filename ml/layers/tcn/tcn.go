// Package tcn implements a residual temporal convolution over `[batch, channels, nodes, steps]`
// features: a dilated convolution that spans 3 neighboring nodes and a causal window of time steps.
package tcn

import (
	"slices"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors/images"
)

const (
	// ParamKernelSize is the context hyperparameter with the default temporal kernel size.
	ParamKernelSize = "tcn_kernel_size"

	// ParamDilation is the context hyperparameter with the default temporal dilation.
	ParamDilation = "tcn_dilation"

	// ParamDropoutRate is the context hyperparameter with the default dropout rate.
	ParamDropoutRate = "tcn_dropout_rate"
)

// Builder for the temporal convolution block. Create it with New, configure it and call Done.
type Builder struct {
	ctx         *context.Context
	x           *Node
	filters     int
	kernelSize  int
	dilation    int
	dropoutRate float64
}

// New creates a temporal convolution block over x shaped `[batch, channels, nodes, steps]`.
func New(ctx *context.Context, x *Node) *Builder {
	return &Builder{
		ctx:         ctx.In("tcn"),
		x:           x,
		kernelSize:  context.GetParamOr(ctx, ParamKernelSize, 3),
		dilation:    context.GetParamOr(ctx, ParamDilation, 1),
		dropoutRate: context.GetParamOr(ctx, ParamDropoutRate, 0.0),
	}
}

// Filters sets the number of output channels. Default is the number of input channels.
func (b *Builder) Filters(filters int) *Builder {
	b.filters = filters
	return b
}

// KernelSize sets the size of the convolution window over time. Default is 3.
func (b *Builder) KernelSize(size int) *Builder {
	b.kernelSize = size
	return b
}

// Dilation sets the dilation over time. Default is 1.
func (b *Builder) Dilation(dilation int) *Builder {
	b.dilation = dilation
	return b
}

// Dropout sets the dropout rate applied to the convolution output during training.
func (b *Builder) Dropout(rate float64) *Builder {
	b.dropoutRate = rate
	return b
}

// Done builds the block and returns the result shaped `[batch, filters, nodes, steps]`.
//
// The time axis is padded by (kernelSize-1)*dilation on both sides, and the trailing padded steps are
// dropped after the convolution, so each output step only sees the current and past steps.
func (b *Builder) Done() *Node {
	ctx := b.ctx
	x := b.x
	if x.Rank() != 4 {
		Panicf("tcn requires x shaped [batch, channels, nodes, steps], got %s", x.Shape())
	}
	if b.kernelSize < 1 || b.dilation < 1 {
		Panicf("tcn requires kernelSize >= 1 and dilation >= 1, got %d and %d", b.kernelSize, b.dilation)
	}
	inputChannels, numSteps := x.Shape().Dimensions[1], x.Shape().Dimensions[3]
	filters := b.filters
	if filters <= 0 {
		filters = inputChannels
	}
	padding := (b.kernelSize - 1) * b.dilation

	padded := zeroPad(x, 2, 1)
	padded = zeroPad(padded, 3, padding)
	output := layers.Convolution(ctx, padded).
		Filters(filters).
		KernelSizePerDim(3, b.kernelSize).
		DilationPerDim(1, b.dilation).
		ChannelsAxis(images.ChannelsFirst).
		UseBias(true).
		Done()
	if padding > 0 {
		// Chomp: drop the steps that only saw the trailing padding.
		output = Slice(output, AxisRange(), AxisRange(), AxisRange(), AxisRange(0, numSteps))
	}
	output = layers.DropoutStatic(ctx, output, b.dropoutRate)

	shortcut := x
	if inputChannels != filters {
		shortcut = layers.Convolution(ctx.In("shortcut"), x).
			Filters(filters).
			KernelSize(1).
			ChannelsAxis(images.ChannelsFirst).
			UseBias(true).
			Done()
	}
	return Add(output, shortcut)
}

// zeroPad pads axis of x with amount zeros on both sides.
func zeroPad(x *Node, axis, amount int) *Node {
	if amount == 0 {
		return x
	}
	dims := slices.Clone(x.Shape().Dimensions)
	dims[axis] = amount
	zeros := Zeros(x.Graph(), shapes.Make(x.DType(), dims...))
	return Concatenate([]*Node{zeros, x, zeros}, axis)
}
